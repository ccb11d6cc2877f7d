package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"tripseat/api/routes"
	"tripseat/internal/shared/config"
	"tripseat/internal/shared/database"
	"tripseat/internal/shared/middleware"
	"tripseat/internal/trips"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Seeder struct {
	db    *database.DB
	trips trips.Service
}

type options struct {
	clean    bool
	trips    int
	capacity int
	start    string
	tokens   bool
	tokenTTL time.Duration
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("seed", pflag.ExitOnError)
	flags.BoolVar(&opts.clean, "clean", true, "truncate engine tables and seat keys first")
	flags.IntVarP(&opts.trips, "trips", "n", 6, "number of trips to provision")
	flags.IntVarP(&opts.capacity, "capacity", "c", 40, "seats per trip")
	flags.StringVar(&opts.start, "start", "", "first departure (RFC3339), defaults to tomorrow 06:00 UTC")
	flags.BoolVar(&opts.tokens, "tokens", true, "print access tokens for each role")
	flags.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed tokens")
	_ = flags.Parse(os.Args[1:])

	fmt.Println("🌱 Starting Tripseat Seeder...")

	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.Inventory.Backend == config.BackendMemory {
		log.Fatalf("INVENTORY_BACKEND=memory keeps nothing to seed; use postgres or redis")
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	engine, err := routes.NewRouter(cfg, db, routes.Deps{})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	seeder := &Seeder{db: db, trips: engine.Trips}
	ctx := context.Background()

	if opts.clean {
		fmt.Println("\n🧹 Cleaning database...")
		if err := seeder.CleanDatabase(ctx); err != nil {
			log.Fatalf("Failed to clean database: %v", err)
		}
		fmt.Println("✅ Database cleaned successfully")
	}

	first, err := firstDeparture(opts.start)
	if err != nil {
		log.Fatalf("Invalid --start: %v", err)
	}

	fmt.Println("\n🌱 Seeding trips...")
	if err := seeder.SeedTrips(ctx, opts.trips, opts.capacity, first); err != nil {
		log.Fatalf("Failed to seed trips: %v", err)
	}
	fmt.Println("✅ Trips seeded successfully")

	if opts.tokens {
		fmt.Println("\n🔑 Access tokens")
		for _, role := range []string{middleware.RoleAgent, middleware.RoleOperator, middleware.RoleAdmin} {
			token, err := middleware.IssueAccessToken(cfg.JWT.Secret, "seed-"+role, role, opts.tokenTTL)
			if err != nil {
				log.Fatalf("Failed to sign %s token: %v", role, err)
			}
			fmt.Printf("  %-8s %s\n", role, token)
		}
	}

	fmt.Println("\n🎉 Seeding completed! The engine is ready for testing.")
}

func firstDeparture(start string) (time.Time, error) {
	if start != "" {
		return time.Parse(time.RFC3339, start)
	}
	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 6, 0, 0, 0, time.UTC), nil
}

// CleanDatabase truncates the engine tables and drops Redis seat keys
func (s *Seeder) CleanDatabase(ctx context.Context) error {
	tables := []string{
		"operation_receipts",
		"bookings",
		"seats",
		"trips",
	}

	tx := s.db.PostgreSQL.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, table := range tables {
		fmt.Printf("  Truncating table: %s\n", table)
		if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	if s.db.Redis != nil {
		if err := s.db.Redis.FlushDB(ctx).Err(); err != nil {
			log.Printf("Warning: Failed to clear Redis: %v", err)
		}
	}
	return nil
}

var routesSeed = []struct {
	origin      string
	destination string
}{
	{"Harbour", "Old Town"},
	{"Old Town", "Harbour"},
	{"Central", "Airport"},
	{"Airport", "Central"},
	{"Central", "Lakeside"},
	{"Lakeside", "Central"},
}

// SeedTrips provisions n trips two hours apart, cycling through routesSeed
func (s *Seeder) SeedTrips(ctx context.Context, n, capacity int, first time.Time) error {
	for i := 0; i < n; i++ {
		r := routesSeed[i%len(routesSeed)]
		departure := first.Add(time.Duration(i) * 2 * time.Hour)
		req := trips.CreateTripRequest{
			ID:          fmt.Sprintf("%d", 9001+i),
			Route:       r.origin + " - " + r.destination,
			Origin:      r.origin,
			Destination: r.destination,
			DepartureAt: departure,
			Capacity:    capacity,
		}

		trip, _, err := s.trips.CreateTrip(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to create trip %s: %w", req.ID, err)
		}
		fmt.Printf("    ✅ Created trip %s: %s at %s (%d seats)\n",
			trip.ID, trip.Route, trip.DepartureAt.Format(time.RFC3339), trip.Capacity)
	}
	return nil
}
