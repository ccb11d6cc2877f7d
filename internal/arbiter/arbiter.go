// Package arbiter turns booking-level seat intents into ordered per-seat
// compare-and-swap calls against the inventory store.
//
// No cross-seat lock is ever taken. Multi-seat claims are all-or-nothing:
// seats are swapped in ascending order and a failed claim compensates every
// seat it already won back to AVAILABLE. Version conflicts are retried once
// against a fresh read and never returned to callers.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tripseat/internal/inventory"
	"tripseat/internal/shared/apperr"
	"tripseat/pkg/logger"
)

// Arbiter is the single write path for seat state
type Arbiter struct {
	store inventory.Store
	log   *logger.Logger
}

// New creates an arbiter over store
func New(store inventory.Store) *Arbiter {
	return &Arbiter{store: store, log: logger.GetDefault()}
}

// Store exposes the underlying store for read paths
func (a *Arbiter) Store() inventory.Store {
	return a.store
}

// ClaimSeats moves every requested seat from AVAILABLE to target (HELD or
// BOOKED) for bookingID. On failure nothing stays claimed and the error is
// an *apperr.SeatsUnavailableError naming the contended seats.
func (a *Arbiter) ClaimSeats(ctx context.Context, tripID string, seats []int, bookingID string, target inventory.SeatState, heldUntil *time.Time) ([]inventory.Seat, error) {
	if target != inventory.StateHeld && target != inventory.StateBooked {
		return nil, fmt.Errorf("%w: cannot claim seats into %s", apperr.ErrValidation, target)
	}
	if bookingID == "" {
		return nil, fmt.Errorf("%w: booking id is required", apperr.ErrValidation)
	}
	next := inventory.Transition{State: target, Owner: bookingID}
	if target == inventory.StateHeld {
		next.HeldUntil = heldUntil
	}

	claimed, err := a.claim(ctx, tripID, seats, next)
	if err != nil {
		if contended, ok := apperr.UnavailableSeats(err); ok {
			a.log.LogSeatConflict(ctx, tripID, bookingID, contended)
		}
		return nil, err
	}
	return claimed, nil
}

// BlockSeats withdraws AVAILABLE seats from sale, all or nothing
func (a *Arbiter) BlockSeats(ctx context.Context, tripID string, seats []int) ([]inventory.Seat, error) {
	return a.claim(ctx, tripID, seats, inventory.Transition{State: inventory.StateBlocked})
}

// UnblockSeats returns BLOCKED seats to sale. AVAILABLE seats are skipped.
func (a *Arbiter) UnblockSeats(ctx context.Context, tripID string, seats []int) ([]inventory.Seat, error) {
	ordered, err := normalize(seats)
	if err != nil {
		return nil, err
	}

	current, err := a.readAll(ctx, tripID, ordered)
	if err != nil {
		return nil, err
	}
	for _, s := range current {
		if s.State != inventory.StateBlocked && s.State != inventory.StateAvailable {
			return nil, fmt.Errorf("%w: seat %d is %s, not blocked", apperr.ErrValidation, s.SeatNumber, s.State)
		}
	}

	var out []inventory.Seat
	for _, s := range current {
		if s.State == inventory.StateAvailable {
			continue
		}
		updated, err := a.swapWithRetry(ctx, s, inventory.ToAvailable(), func(fresh inventory.Seat) bool {
			return fresh.State == inventory.StateBlocked
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, updated)
	}
	return out, nil
}

// ReleaseSeats returns seats owned by expectedOwner to AVAILABLE. Seats that
// are already AVAILABLE are skipped. If any seat is owned by someone else
// the call fails with apperr.ErrOwnershipMismatch before writing anything.
func (a *Arbiter) ReleaseSeats(ctx context.Context, tripID string, seats []int, expectedOwner string) ([]inventory.Seat, error) {
	ordered, err := normalize(seats)
	if err != nil {
		return nil, err
	}

	current, err := a.readAll(ctx, tripID, ordered)
	if err != nil {
		return nil, err
	}
	for _, s := range current {
		if s.State != inventory.StateAvailable && !s.OwnedBy(expectedOwner) {
			return nil, ownershipMismatch(s, expectedOwner)
		}
	}

	var released []inventory.Seat
	for _, s := range current {
		if s.State == inventory.StateAvailable {
			continue
		}
		updated, err := a.swapWithRetry(ctx, s, inventory.ToAvailable(), func(fresh inventory.Seat) bool {
			return fresh.OwnedBy(expectedOwner)
		})
		if err != nil {
			if errors.Is(err, errSkip) {
				continue
			}
			return released, err
		}
		released = append(released, updated)
	}
	return released, nil
}

// PromoteSeats turns seats HELD by owner into BOOKED. Seats already BOOKED by
// owner are left alone.
func (a *Arbiter) PromoteSeats(ctx context.Context, tripID string, seats []int, owner string) ([]inventory.Seat, error) {
	ordered, err := normalize(seats)
	if err != nil {
		return nil, err
	}

	current, err := a.readAll(ctx, tripID, ordered)
	if err != nil {
		return nil, err
	}
	for _, s := range current {
		if !s.OwnedBy(owner) {
			return nil, ownershipMismatch(s, owner)
		}
	}

	next := inventory.Transition{State: inventory.StateBooked, Owner: owner}
	var promoted []inventory.Seat
	for _, s := range current {
		if s.State == inventory.StateBooked {
			promoted = append(promoted, s)
			continue
		}
		updated, err := a.swapWithRetry(ctx, s, next, func(fresh inventory.Seat) bool {
			return fresh.State == inventory.StateHeld && fresh.OwnedBy(owner)
		})
		if errors.Is(err, errSkip) {
			return promoted, ownershipMismatch(s, owner)
		}
		if err != nil {
			return promoted, err
		}
		promoted = append(promoted, updated)
	}
	return promoted, nil
}

// claim performs the ordered all-or-nothing swap from AVAILABLE to next
func (a *Arbiter) claim(ctx context.Context, tripID string, seats []int, next inventory.Transition) ([]inventory.Seat, error) {
	ordered, err := normalize(seats)
	if err != nil {
		return nil, err
	}

	current, err := a.readAll(ctx, tripID, ordered)
	if err != nil {
		return nil, err
	}

	var taken []int
	for _, s := range current {
		if !s.IsAvailable() {
			taken = append(taken, s.SeatNumber)
		}
	}
	if len(taken) > 0 {
		return nil, apperr.NewSeatsUnavailable(tripID, taken)
	}

	claimed := make([]inventory.Seat, 0, len(current))
	for i, s := range current {
		updated, err := a.swapWithRetry(ctx, s, next, func(fresh inventory.Seat) bool {
			return fresh.IsAvailable()
		})
		if err == nil {
			claimed = append(claimed, updated)
			continue
		}

		a.compensate(ctx, claimed)
		if !errors.Is(err, errSkip) {
			return nil, err
		}
		contended := append([]int{s.SeatNumber}, a.unavailableAmong(ctx, tripID, current[i+1:])...)
		return nil, apperr.NewSeatsUnavailable(tripID, contended)
	}
	return claimed, nil
}

// errSkip reports that the fresh read no longer qualifies for the swap
var errSkip = errors.New("seat moved by another writer")

// swapWithRetry swaps s to next. On a version conflict it re-reads once and,
// if eligible still accepts the fresh row, retries against its version.
func (a *Arbiter) swapWithRetry(ctx context.Context, s inventory.Seat, next inventory.Transition, eligible func(inventory.Seat) bool) (inventory.Seat, error) {
	updated, err := a.store.CompareAndSwap(ctx, s.TripID, s.SeatNumber, s.Version, next)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, apperr.ErrVersionConflict) {
		return inventory.Seat{}, err
	}

	fresh, err := a.store.ReadSeat(ctx, s.TripID, s.SeatNumber)
	if err != nil {
		return inventory.Seat{}, err
	}
	if !eligible(fresh) {
		return inventory.Seat{}, errSkip
	}

	updated, err = a.store.CompareAndSwap(ctx, fresh.TripID, fresh.SeatNumber, fresh.Version, next)
	if errors.Is(err, apperr.ErrVersionConflict) {
		return inventory.Seat{}, errSkip
	}
	return updated, err
}

// compensate frees seats won earlier in a failed claim, using the version
// the claim just wrote. It runs even if the caller's context is done.
func (a *Arbiter) compensate(ctx context.Context, claimed []inventory.Seat) {
	ctx = context.WithoutCancel(ctx)
	for i := len(claimed) - 1; i >= 0; i-- {
		s := claimed[i]
		if _, err := a.store.CompareAndSwap(ctx, s.TripID, s.SeatNumber, s.Version, inventory.ToAvailable()); err != nil {
			a.log.ErrorWithContext(ctx, "Failed to compensate seat claim", err, map[string]interface{}{
				"trip_id":     s.TripID,
				"seat_number": s.SeatNumber,
				"owner":       s.Owner,
			})
		}
	}
}

func (a *Arbiter) unavailableAmong(ctx context.Context, tripID string, rest []inventory.Seat) []int {
	var out []int
	for _, s := range rest {
		fresh, err := a.store.ReadSeat(ctx, tripID, s.SeatNumber)
		if err == nil && !fresh.IsAvailable() {
			out = append(out, s.SeatNumber)
		}
	}
	return out
}

func (a *Arbiter) readAll(ctx context.Context, tripID string, ordered []int) ([]inventory.Seat, error) {
	out := make([]inventory.Seat, 0, len(ordered))
	for _, n := range ordered {
		s, err := a.store.ReadSeat(ctx, tripID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// normalize dedupes and sorts seat numbers ascending
func normalize(seats []int) ([]int, error) {
	if len(seats) == 0 {
		return nil, fmt.Errorf("%w: at least one seat is required", apperr.ErrValidation)
	}
	seen := make(map[int]bool, len(seats))
	out := make([]int, 0, len(seats))
	for _, n := range seats {
		if n <= 0 {
			return nil, fmt.Errorf("%w: invalid seat number %d", apperr.ErrValidation, n)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func ownershipMismatch(s inventory.Seat, expected string) error {
	return fmt.Errorf("seat %d on trip %s is %s for %q, expected %q: %w",
		s.SeatNumber, s.TripID, s.State, s.Owner, expected, apperr.ErrOwnershipMismatch)
}
