// Package reschedule moves a confirmed booking onto different seats, on the
// same trip or another one, without ever leaving it with neither.
package reschedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tripseat/internal/bookings"
	"tripseat/internal/inventory"
	"tripseat/internal/shared/apperr"
	"tripseat/pkg/logger"

	"github.com/google/uuid"
)

// SeatArbiter is the seat write path the coordinator drives
type SeatArbiter interface {
	ClaimSeats(ctx context.Context, tripID string, seats []int, bookingID string, target inventory.SeatState, heldUntil *time.Time) ([]inventory.Seat, error)
	ReleaseSeats(ctx context.Context, tripID string, seats []int, expectedOwner string) ([]inventory.Seat, error)
	PromoteSeats(ctx context.Context, tripID string, seats []int, owner string) ([]inventory.Seat, error)
}

// BookingStore is the part of the booking service a reschedule commits through
type BookingStore interface {
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*bookings.Booking, error)
	Replay(ctx context.Context, key string, op bookings.Operation, bookingID uuid.UUID) (*bookings.Booking, bool, error)
	CommitReschedule(ctx context.Context, booking *bookings.Booking, expectedRevision int64, tripID string, seats bookings.SeatNumbers, key string) (*bookings.Booking, error)
}

// Config tunes the coordinator
type Config struct {
	// HoldTTL bounds how long new seats stay HELD before the commit
	HoldTTL time.Duration
	Now     func() time.Time
}

// Coordinator runs the claim, release, commit, promote sequence
type Coordinator struct {
	bookings BookingStore
	arbiter  SeatArbiter
	cfg      Config
	log      *logger.Logger
}

// NewCoordinator creates a reschedule coordinator
func NewCoordinator(store BookingStore, arbiter SeatArbiter, cfg Config) *Coordinator {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{bookings: store, arbiter: arbiter, cfg: cfg, log: logger.GetDefault()}
}

// plan is the seat delta of one reschedule
type plan struct {
	oldTrip  string
	newTrip  string
	newSeats bookings.SeatNumbers
	claim    bookings.SeatNumbers
	release  bookings.SeatNumbers
}

func newPlan(b *bookings.Booking, tripID string, seats []int) plan {
	p := plan{
		oldTrip:  b.TripID,
		newTrip:  tripID,
		newSeats: bookings.NewSeatNumbers(seats),
	}
	if tripID == b.TripID {
		// Seats on both sides stay BOOKED throughout.
		p.claim = p.newSeats.Minus(b.Seats)
		p.release = b.Seats.Minus(p.newSeats)
	} else {
		p.claim = p.newSeats
		p.release = b.Seats
	}
	return p
}

// Reschedule moves bookingID to seats on tripID. A failed claim leaves the
// booking untouched; a failed release gives the new seats back.
func (c *Coordinator) Reschedule(ctx context.Context, bookingID uuid.UUID, tripID string, seats []int, key string) (*bookings.Booking, error) {
	tripID = strings.TrimSpace(tripID)
	if tripID == "" {
		return nil, fmt.Errorf("%w: trip_id is required", apperr.ErrValidation)
	}
	if len(seats) == 0 {
		return nil, fmt.Errorf("%w: at least one seat is required", apperr.ErrValidation)
	}
	for _, n := range seats {
		if n <= 0 {
			return nil, fmt.Errorf("%w: invalid seat number %d", apperr.ErrValidation, n)
		}
	}

	if prior, ok, err := c.bookings.Replay(ctx, key, bookings.OpReschedule, bookingID); err != nil {
		return nil, err
	} else if ok {
		return prior, nil
	}

	b, err := c.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != bookings.StatusConfirmed {
		return nil, fmt.Errorf("%w: booking %s is %s, only CONFIRMED bookings can be rescheduled",
			apperr.ErrInvalidState, b.ID, b.Status)
	}

	p := newPlan(b, tripID, seats)
	if p.newTrip == p.oldTrip && p.newSeats.Equal(b.Seats) {
		return b, nil
	}
	owner := b.Owner()

	// Step 1: claim the new seats as HELD for this booking
	if len(p.claim) > 0 {
		heldUntil := c.cfg.Now().Add(c.cfg.HoldTTL)
		if _, err := c.arbiter.ClaimSeats(ctx, p.newTrip, p.claim, owner, inventory.StateHeld, &heldUntil); err != nil {
			return nil, err
		}
	}

	// Step 2: give up the old seats
	if len(p.release) > 0 {
		released, err := c.arbiter.ReleaseSeats(ctx, p.oldTrip, p.release, owner)
		if err != nil {
			undo := context.WithoutCancel(ctx)
			c.restore(undo, b, released)
			c.releaseNew(undo, p, owner)
			c.log.ErrorWithContext(ctx, "Reschedule aborted releasing old seats", err, map[string]interface{}{
				"booking_id": b.ID.String(),
				"from_trip":  p.oldTrip,
				"to_trip":    p.newTrip,
			})
			// The booking owned these seats when it was read, so any failure
			// here is internal rather than a business outcome.
			return nil, fmt.Errorf("failed to release seats of booking %s: %v", b.ID, err)
		}
	}

	// Step 3: commit the booking row. A crash after this point leaves new
	// seats HELD by a CONFIRMED booking, which reconciliation promotes. A
	// crash before it leaves them HELD by a booking that does not list them,
	// which reconciliation frees once the hold runs out.
	committed, err := c.bookings.CommitReschedule(ctx, b, b.Revision, p.newTrip, p.newSeats, key)
	if err != nil {
		undo := context.WithoutCancel(ctx)
		c.releaseNew(undo, p, owner)
		c.restoreIfStillOwned(undo, b, p)
		return nil, err
	}

	// Step 4: promote the new seats
	if _, err := c.arbiter.PromoteSeats(ctx, p.newTrip, p.newSeats, owner); err != nil {
		c.log.ErrorWithContext(ctx, "Failed to promote rescheduled seats", err, map[string]interface{}{
			"booking_id": b.ID.String(),
			"trip_id":    p.newTrip,
		})
	}

	c.log.LogBookingRescheduled(ctx, b.ID.String(), p.oldTrip, p.newTrip, p.newSeats)
	return committed, nil
}

// releaseNew frees the seats this reschedule claimed
func (c *Coordinator) releaseNew(ctx context.Context, p plan, owner string) {
	if len(p.claim) == 0 {
		return
	}
	if _, err := c.arbiter.ReleaseSeats(ctx, p.newTrip, p.claim, owner); err != nil {
		c.log.ErrorWithContext(ctx, "Failed to compensate rescheduled seats", err, map[string]interface{}{
			"booking_id": owner,
			"trip_id":    p.newTrip,
			"seats":      []int(p.claim),
		})
	}
}

// restore books old seats that a partial release already let go
func (c *Coordinator) restore(ctx context.Context, b *bookings.Booking, released []inventory.Seat) {
	if len(released) == 0 {
		return
	}
	seats := make([]int, 0, len(released))
	for _, s := range released {
		seats = append(seats, s.SeatNumber)
	}
	if _, err := c.arbiter.ClaimSeats(ctx, b.TripID, seats, b.Owner(), inventory.StateBooked, nil); err != nil {
		c.log.ErrorWithContext(ctx, "Failed to restore released seats", err, map[string]interface{}{
			"booking_id": b.ID.String(),
			"trip_id":    b.TripID,
			"seats":      seats,
		})
	}
}

// restoreIfStillOwned re-books the old seats after a lost commit, unless the
// booking has since stopped owning them
func (c *Coordinator) restoreIfStillOwned(ctx context.Context, b *bookings.Booking, p plan) {
	if len(p.release) == 0 {
		return
	}
	current, err := c.bookings.GetBooking(ctx, b.ID)
	if err != nil || !current.HoldsSeats() || current.TripID != p.oldTrip {
		return
	}
	seats := make([]inventory.Seat, 0, len(p.release))
	for _, n := range p.release {
		if current.Seats.Contains(n) {
			seats = append(seats, inventory.Seat{TripID: p.oldTrip, SeatNumber: n})
		}
	}
	c.restore(ctx, current, seats)
}
