// api/routes/router.go
package routes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tripseat/docs"
	"tripseat/internal/arbiter"
	"tripseat/internal/bookings"
	"tripseat/internal/inventory"
	"tripseat/internal/realtime"
	"tripseat/internal/reschedule"
	"tripseat/internal/shared/config"
	"tripseat/internal/shared/database"
	"tripseat/internal/shared/middleware"
	"tripseat/internal/trips"
	"tripseat/pkg/cache"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Deps are the collaborators built by the server before routing
type Deps struct {
	Cache  cache.Service
	Hub    *realtime.Hub
	Ledger bookings.Ledger

	// Outbound carries deltas off the instance, e.g. to Kafka. May be nil.
	Outbound realtime.Publisher
}

// Router owns the engine services and mounts their routes
type Router struct {
	config *config.Config
	db     *database.DB
	deps   Deps

	Store       inventory.Store
	Arbiter     *arbiter.Arbiter
	Bookings    bookings.Service
	Trips       trips.Service
	Coordinator *reschedule.Coordinator

	// Invalidator must also receive deltas relayed from other instances
	Invalidator *trips.SeatMapInvalidator
}

// NewRouter builds the services for the configured backend
func NewRouter(cfg *config.Config, db *database.DB, deps Deps) (*Router, error) {
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryService()
	}
	if deps.Hub == nil {
		deps.Hub = realtime.NewHub(0)
	}

	r := &Router{config: cfg, db: db, deps: deps}
	r.Invalidator = trips.NewSeatMapInvalidator(deps.Cache)

	seatPublisher := realtime.Multi{r.Invalidator, deps.Hub, deps.Outbound}
	bookingPublisher := realtime.Multi{deps.Hub, deps.Outbound}

	var (
		bookingRepo bookings.Repository
		tripRepo    trips.Repository
	)
	switch cfg.Inventory.Backend {
	case config.BackendMemory:
		r.Store = inventory.NewMemoryStore(inventory.WithPublisher(seatPublisher))
		bookingRepo = bookings.NewMemoryRepository()
		tripRepo = trips.NewMemoryRepository()
	case config.BackendPostgres:
		if !db.Enabled() {
			return nil, fmt.Errorf("postgres backend needs a database connection")
		}
		r.Store = inventory.NewPostgresStore(db.PostgreSQL, inventory.WithPublisher(seatPublisher))
		bookingRepo = bookings.NewRepository(db.PostgreSQL)
		tripRepo = trips.NewRepository(db.PostgreSQL)
	case config.BackendRedis:
		if !db.Enabled() || db.Redis == nil {
			return nil, fmt.Errorf("redis backend needs Redis and Postgres connections")
		}
		store := inventory.NewRedisStore(db.Redis, inventory.WithPublisher(seatPublisher))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.PreloadScripts(ctx); err != nil {
			return nil, err
		}
		r.Store = store
		bookingRepo = bookings.NewRepository(db.PostgreSQL)
		tripRepo = trips.NewRepository(db.PostgreSQL)
	default:
		return nil, fmt.Errorf("unknown inventory backend %q", cfg.Inventory.Backend)
	}

	r.Arbiter = arbiter.New(r.Store)
	r.Bookings = bookings.NewService(bookingRepo, r.Arbiter, deps.Ledger, bookingPublisher, bookings.Config{
		HoldTTL:            cfg.Booking.HoldTTL,
		TicketPrefix:       cfg.Booking.TicketPrefix,
		LedgerTimeout:      cfg.Booking.LedgerTimeout,
		SweepBatchSize:     cfg.Booking.SweepBatchSize,
		NoShowReleaseGrace: cfg.Booking.NoShowReleaseGrace,
	})
	r.Coordinator = reschedule.NewCoordinator(r.Bookings, r.Arbiter, reschedule.Config{HoldTTL: cfg.Booking.HoldTTL})
	r.Trips = trips.NewService(tripRepo, r.Store, r.Arbiter, r.Bookings, deps.Cache, r.Invalidator)
	return r, nil
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	r.setupHealthRoutes(engine)

	docs.SwaggerInfo.BasePath = r.config.GetAPIBasePath()
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	auth := middleware.JWTAuthWithConfig(r.config)
	api := engine.Group(r.config.GetAPIBasePath())
	{
		trips.SetupTripRoutes(api, trips.NewController(r.Trips), auth)
		bookings.SetupBookingRoutes(api, bookings.NewController(r.Bookings), auth)
		reschedule.SetupRescheduleRoutes(api, reschedule.NewController(r.Coordinator), auth)
		realtime.SetupStreamRoutes(api, realtime.NewController(r.deps.Hub, 0))
	}
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		if err := r.db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"timestamp": time.Now(),
				"service":   "tripseat-engine",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"service":     "tripseat-engine",
			"backend":     r.config.Inventory.Backend,
			"subscribers": r.deps.Hub.Subscribers(),
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.APIVersion,
		})
	})

	engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "operational",
			"api_version": r.config.APIVersion,
			"backend":     r.config.Inventory.Backend,
			"kafka":       r.config.Kafka.Enabled,
			"ledger":      r.config.RabbitMQ.Enabled,
			"timestamp":   time.Now(),
		})
	})
}
