// Package inventory holds the authoritative per-trip seat rows.
//
// CompareAndSwap is the only mutation primitive. Every implementation
// increments the version by exactly one per successful swap and publishes
// the resulting seat delta after the write is visible to readers.
package inventory

import (
	"context"
	"fmt"
	"time"

	"tripseat/internal/realtime"
	"tripseat/internal/shared/apperr"
)

// Store is the seat inventory contract
type Store interface {
	// ProvisionTrip creates seats 1..capacity as AVAILABLE, version 1.
	// Calling it again for an existing trip is a no-op.
	ProvisionTrip(ctx context.Context, tripID string, capacity int) error

	// GetSeats returns the latest committed seats ordered by seat number.
	GetSeats(ctx context.Context, tripID string) ([]Seat, error)

	// ReadSeat returns one seat or apperr.ErrNotFound.
	ReadSeat(ctx context.Context, tripID string, seatNumber int) (Seat, error)

	// CompareAndSwap moves the seat to next if its version still equals
	// expectedVersion. It fails with apperr.ErrVersionConflict otherwise
	// and apperr.ErrNotFound for unknown seats.
	CompareAndSwap(ctx context.Context, tripID string, seatNumber int, expectedVersion int64, next Transition) (Seat, error)
}

// Option configures a store
type Option func(*options)

type options struct {
	publisher realtime.Publisher
	now       func() time.Time
}

// WithPublisher routes committed seat deltas to p
func WithPublisher(p realtime.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{publisher: realtime.Discard, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.publisher == nil {
		o.publisher = realtime.Discard
	}
	return o
}

func validateTransition(next Transition) error {
	if !next.State.IsValid() {
		return fmt.Errorf("%w: unknown seat state %q", apperr.ErrValidation, next.State)
	}
	if (next.State == StateHeld || next.State == StateBooked) && next.Owner == "" {
		return fmt.Errorf("%w: %s seat requires an owner", apperr.ErrValidation, next.State)
	}
	return nil
}

func seatNotFound(tripID string, seatNumber int) error {
	return fmt.Errorf("seat %d on trip %s: %w", seatNumber, tripID, apperr.ErrNotFound)
}

func tripNotFound(tripID string) error {
	return fmt.Errorf("trip %s: %w", tripID, apperr.ErrNotFound)
}
