// @title Tripseat Engine API
// @version 1.0
// @description Seat inventory and booking engine for scheduled trips.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tripseat/api/routes"
	"tripseat/internal/bookings"
	"tripseat/internal/ledger"
	"tripseat/internal/realtime"
	"tripseat/internal/shared/config"
	"tripseat/internal/shared/database"
	"tripseat/pkg/cache"
	"tripseat/pkg/logger"
	"tripseat/pkg/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	appLogger := logger.GetDefault()

	// Smart environment loading
	if err := godotenv.Load(); err != nil {
		if os.Getenv("GIN_MODE") == "release" || os.Getenv("DOCKER_CONTAINER") == "true" {
			appLogger.Info("Production environment: using container environment variables")
		} else {
			appLogger.Info("No .env file found, using system environment variables")
		}
	} else {
		appLogger.Info("Development environment: loaded .env file")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		appLogger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	gin.SetMode(cfg.GinMode)

	db, err := database.InitDB(cfg)
	if err != nil {
		appLogger.Error("failed to connect:", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Cache and rate limiter share Redis when there is one
	var (
		cacheService cache.Service
		rateLimiter  ratelimit.Limiter
	)
	rateLimiterConfig := &ratelimit.Config{
		Enabled:                 cfg.RateLimit.Enabled,
		WindowDuration:          cfg.RateLimit.WindowDuration,
		DefaultRequests:         cfg.RateLimit.DefaultRequests,
		PublicRequests:          cfg.RateLimit.PublicRequests,
		BookingRequests:         cfg.RateLimit.BookingRequests,
		BookingCriticalRequests: cfg.RateLimit.BookingCriticalRequests,
		AdminRequests:           cfg.RateLimit.AdminRequests,
		HealthRequests:          cfg.RateLimit.HealthRequests,
		WhitelistedIPs:          cfg.RateLimit.WhitelistedIPs,
	}
	if db.Redis != nil {
		cacheService = cache.NewService(db.Redis)
		if cfg.RateLimit.Enabled {
			rateLimiter = ratelimit.NewRateLimiter(db.Redis, rateLimiterConfig)
		}
	} else {
		cacheService = cache.NewMemoryService()
		if cfg.RateLimit.Enabled {
			rateLimiter = ratelimit.NewMemoryLimiter(rateLimiterConfig)
		}
	}
	if rateLimiter != nil {
		appLogger.Info("Rate limiter initialized",
			slog.Duration("window", cfg.RateLimit.WindowDuration),
			slog.Int("default_requests", cfg.RateLimit.DefaultRequests),
			slog.Bool("shared", db.Redis != nil),
		)
	} else {
		appLogger.Info("Rate limiting disabled")
	}

	hub := realtime.NewHub(0)
	deps := routes.Deps{Cache: cacheService, Hub: hub}

	// Payment ledger
	if cfg.RabbitMQ.Enabled {
		rabbit := ledger.NewRabbitLedger(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		defer rabbit.Close()
		deps.Ledger = rabbit
		appLogger.Info("Ledger notifications go to RabbitMQ", slog.String("queue", cfg.RabbitMQ.Queue))
	} else {
		deps.Ledger = ledger.NewLogLedger()
	}

	// Cross-instance delta stream
	var kafkaConfig *realtime.KafkaConfig
	if cfg.Kafka.Enabled {
		kafkaConfig = realtime.DefaultKafkaConfig()
		kafkaConfig.Brokers = cfg.Kafka.Brokers
		kafkaConfig.Topic = cfg.Kafka.DeltaTopic
		kafkaConfig.GroupID = cfg.Kafka.GroupID

		publisher, err := realtime.NewKafkaPublisher(kafkaConfig)
		if err != nil {
			appLogger.Error("Failed to start delta publisher", slog.Any("error", err))
			os.Exit(1)
		}
		defer publisher.Close()
		deps.Outbound = publisher
	}

	appRouter, err := routes.NewRouter(cfg, db, deps)
	if err != nil {
		appLogger.Error("Failed to build engine", slog.Any("error", err))
		os.Exit(1)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if kafkaConfig != nil {
		relay, err := realtime.NewKafkaRelay(kafkaConfig, realtime.Multi{appRouter.Invalidator, hub})
		if err != nil {
			appLogger.Error("Failed to start delta relay", slog.Any("error", err))
			os.Exit(1)
		}
		defer relay.Close()
		go relay.Run(bgCtx)
		appLogger.Info("Delta stream enabled",
			slog.String("topic", kafkaConfig.Topic),
			slog.String("origin", kafkaConfig.Origin),
		)
	}

	jobs := bookings.NewJobProcessor(appRouter.Bookings, appRouter.Trips, &bookings.JobConfig{
		SweepInterval:     cfg.Booking.SweepInterval,
		ReconcileInterval: cfg.Booking.ReconcileInterval,
	})
	jobs.Start(bgCtx)

	router := setupRouter(appRouter, rateLimiter)

	srv := &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	go func() {
		appLogger.Info("🚀 Server running",
			slog.String("address", cfg.GetServerAddress()),
			slog.String("health_check", fmt.Sprintf("http://localhost:%s/health", cfg.Port)),
			slog.String("swagger", fmt.Sprintf("http://localhost:%s/swagger/index.html", cfg.Port)),
			slog.String("version", Version),
			slog.String("backend", cfg.Inventory.Backend),
			slog.Bool("redis", db.Redis != nil),
			slog.Bool("kafka", cfg.Kafka.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed", slog.Any("error", err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Open streams end first so Shutdown does not wait on them
	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Forced shutdown", slog.Any("error", err))
	}
	jobs.Stop()
	bgCancel()
	if err := appRouter.Bookings.Shutdown(ctx); err != nil {
		appLogger.Error("Ledger notifications still in flight", slog.Any("error", err))
	}

	appLogger.Info("Server exited gracefully")
}

func setupRouter(appRouter *routes.Router, rateLimiter ratelimit.Limiter) *gin.Engine {
	engine := gin.New()
	appLogger := logger.GetDefault()

	// Built-in middleware: logs requests + recovers from panics
	engine.Use(RequestLoggerMiddleware(appLogger), gin.Recovery())

	engine.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Idempotency-Key", "X-RateLimit-*"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if rateLimiter != nil {
		engine.Use(ratelimit.Middleware(rateLimiter))
	}

	appRouter.SetupRoutes(engine)
	return engine
}

func RequestLoggerMiddleware(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		l.LogHTTPRequest(c, duration)
	}
}
