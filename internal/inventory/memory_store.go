package inventory

import (
	"context"
	"fmt"
	"sync"

	"tripseat/internal/shared/apperr"
)

// MemoryStore keeps seats in process. It backs tests and the
// INVENTORY_BACKEND=memory development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	trips map[string][]Seat
	opts  options
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		trips: make(map[string][]Seat),
		opts:  buildOptions(opts),
	}
}

func (m *MemoryStore) ProvisionTrip(ctx context.Context, tripID string, capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", apperr.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trips[tripID]; ok {
		return nil
	}
	now := m.opts.now()
	seats := make([]Seat, capacity)
	for i := range seats {
		seats[i] = Seat{TripID: tripID, SeatNumber: i + 1, State: StateAvailable, Version: 1, UpdatedAt: now}
	}
	m.trips[tripID] = seats
	return nil
}

func (m *MemoryStore) GetSeats(ctx context.Context, tripID string) ([]Seat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seats, ok := m.trips[tripID]
	if !ok {
		return nil, tripNotFound(tripID)
	}
	out := make([]Seat, len(seats))
	copy(out, seats)
	return out, nil
}

func (m *MemoryStore) ReadSeat(ctx context.Context, tripID string, seatNumber int) (Seat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seats, ok := m.trips[tripID]
	if !ok || seatNumber < 1 || seatNumber > len(seats) {
		return Seat{}, seatNotFound(tripID, seatNumber)
	}
	return seats[seatNumber-1], nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, tripID string, seatNumber int, expectedVersion int64, next Transition) (Seat, error) {
	if err := validateTransition(next); err != nil {
		return Seat{}, err
	}

	m.mu.Lock()
	seats, ok := m.trips[tripID]
	if !ok || seatNumber < 1 || seatNumber > len(seats) {
		m.mu.Unlock()
		return Seat{}, seatNotFound(tripID, seatNumber)
	}
	current := seats[seatNumber-1]
	if current.Version != expectedVersion {
		m.mu.Unlock()
		return Seat{}, fmt.Errorf("seat %d on trip %s at version %d, expected %d: %w",
			seatNumber, tripID, current.Version, expectedVersion, apperr.ErrVersionConflict)
	}
	now := m.opts.now()
	updated := next.apply(current, now)
	seats[seatNumber-1] = updated
	m.mu.Unlock()

	m.opts.publisher.Publish(ctx, updated.Delta(now))
	return updated, nil
}
