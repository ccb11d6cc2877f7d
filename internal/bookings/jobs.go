package bookings

import (
	"context"
	"log"
	"time"
)

// TripLister names the trips reconciliation should walk
type TripLister interface {
	ListTripIDs(ctx context.Context) ([]string, error)
}

// JobProcessor runs the booking maintenance loops
type JobProcessor struct {
	service Service
	trips   TripLister
	config  *JobConfig
	done    chan struct{}
}

// JobConfig contains configuration for background jobs
type JobConfig struct {
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
}

// DefaultJobConfig returns default job configuration
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		SweepInterval:     30 * time.Second, // Expire holds twice a minute
		ReconcileInterval: 15 * time.Minute,
	}
}

// NewJobProcessor creates a new job processor
func NewJobProcessor(service Service, trips TripLister, config *JobConfig) *JobProcessor {
	if config == nil {
		config = DefaultJobConfig()
	}

	return &JobProcessor{
		service: service,
		trips:   trips,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Start starts all background jobs
func (jp *JobProcessor) Start(ctx context.Context) {
	log.Println("Starting booking background jobs...")

	go jp.startSweeper(ctx)

	if jp.trips != nil && jp.config.ReconcileInterval > 0 {
		go jp.startReconciler(ctx)
	}

	log.Println("Booking background jobs started")
}

// Stop stops all background jobs
func (jp *JobProcessor) Stop() {
	log.Println("Stopping booking background jobs...")
	close(jp.done)
	log.Println("Booking background jobs stopped")
}

// startSweeper expires holds and releases overdue no-shows
func (jp *JobProcessor) startSweeper(ctx context.Context) {
	ticker := time.NewTicker(jp.config.SweepInterval)
	defer ticker.Stop()

	log.Printf("Started hold sweeper with %v interval", jp.config.SweepInterval)

	for {
		select {
		case <-ticker.C:
			jp.Sweep(ctx, time.Now())
		case <-jp.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one expiry pass
func (jp *JobProcessor) Sweep(ctx context.Context, now time.Time) {
	expired, err := jp.service.ExpireHolds(ctx, now)
	if err != nil {
		log.Printf("Error expiring holds: %v", err)
	} else if expired > 0 {
		log.Printf("Expired %d held bookings", expired)
	}

	released, err := jp.service.ReleaseOverdueNoShows(ctx, now)
	if err != nil {
		log.Printf("Error releasing no-show seats: %v", err)
	} else if released > 0 {
		log.Printf("Released seats of %d no-show bookings", released)
	}
}

// startReconciler repairs booking/seat disagreement on every trip
func (jp *JobProcessor) startReconciler(ctx context.Context) {
	ticker := time.NewTicker(jp.config.ReconcileInterval)
	defer ticker.Stop()

	log.Printf("Started reconciler with %v interval", jp.config.ReconcileInterval)

	// Run immediately on startup
	jp.ReconcileAll(ctx)

	for {
		select {
		case <-ticker.C:
			jp.ReconcileAll(ctx)
		case <-jp.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ReconcileAll reconciles every known trip
func (jp *JobProcessor) ReconcileAll(ctx context.Context) {
	tripIDs, err := jp.trips.ListTripIDs(ctx)
	if err != nil {
		log.Printf("Error listing trips for reconciliation: %v", err)
		return
	}

	for _, tripID := range tripIDs {
		if _, err := jp.service.Reconcile(ctx, tripID); err != nil {
			log.Printf("Error reconciling trip %s: %v", tripID, err)
		}
	}
}
