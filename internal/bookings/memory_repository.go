package bookings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tripseat/internal/shared/apperr"

	"github.com/google/uuid"
)

// MemoryRepository keeps bookings in process with the same uniqueness and
// revision rules as the gorm repository
type MemoryRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]Booking
	byKey    map[string]uuid.UUID
	byTicket map[string]uuid.UUID
	receipts map[string]OperationReceipt
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bookings: make(map[uuid.UUID]Booking),
		byKey:    make(map[string]uuid.UUID),
		byTicket: make(map[string]uuid.UUID),
		receipts: make(map[string]OperationReceipt),
	}
}

func (m *MemoryRepository) Create(ctx context.Context, booking *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byKey[booking.IdempotencyKey]; ok {
		return fmt.Errorf("booking %s: %w", booking.IdempotencyKey, ErrDuplicateKey)
	}
	if _, ok := m.byTicket[booking.TicketRef]; ok {
		return fmt.Errorf("ticket reference %s already used", booking.TicketRef)
	}
	if booking.Revision == 0 {
		booking.Revision = 1
	}
	m.bookings[booking.ID] = clone(*booking)
	m.byKey[booking.IdempotencyKey] = booking.ID
	m.byTicket[booking.TicketRef] = booking.ID
	return nil
}

func (m *MemoryRepository) get(id uuid.UUID, ok bool) (*Booking, error) {
	if !ok {
		return nil, fmt.Errorf("booking: %w", apperr.ErrNotFound)
	}
	b, found := m.bookings[id]
	if !found {
		return nil, fmt.Errorf("booking: %w", apperr.ErrNotFound)
	}
	out := clone(b)
	return &out, nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(id, true)
}

func (m *MemoryRepository) GetByIdempotencyKey(ctx context.Context, key string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	return m.get(id, ok)
}

func (m *MemoryRepository) GetByTicketRef(ctx context.Context, ref string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTicket[ref]
	return m.get(id, ok)
}

func (m *MemoryRepository) ListByTrip(ctx context.Context, tripID string) ([]Booking, error) {
	return m.filter(0, func(b Booking) bool { return b.TripID == tripID }, func(b Booking) time.Time { return b.CreatedAt }), nil
}

func (m *MemoryRepository) Update(ctx context.Context, booking *Booking, expectedRevision int64) error {
	return m.UpdateWithReceipt(ctx, booking, expectedRevision, nil)
}

func (m *MemoryRepository) UpdateWithReceipt(ctx context.Context, booking *Booking, expectedRevision int64, receipt *OperationReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.bookings[booking.ID]
	if !ok {
		return fmt.Errorf("booking: %w", apperr.ErrNotFound)
	}
	if stored.Revision != expectedRevision {
		return fmt.Errorf("booking %s at revision %d: %w", booking.ID, expectedRevision, ErrStale)
	}
	booking.Revision = expectedRevision + 1
	m.bookings[booking.ID] = clone(*booking)
	if receipt != nil {
		m.saveReceipt(receipt)
	}
	return nil
}

func (m *MemoryRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	return m.filter(limit,
		func(b Booking) bool { return b.HoldExpired(now) },
		func(b Booking) time.Time { return *b.HeldUntil },
	), nil
}

func (m *MemoryRepository) ListNoShowsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	return m.filter(limit,
		func(b Booking) bool {
			return b.Status == StatusNoShow && b.SeatsReleasedAt == nil && !b.StatusChangedAt.After(cutoff)
		},
		func(b Booking) time.Time { return b.StatusChangedAt },
	), nil
}

func (m *MemoryRepository) GetReceipt(ctx context.Context, key string) (*OperationReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[key]
	if !ok {
		return nil, fmt.Errorf("receipt: %w", apperr.ErrNotFound)
	}
	return &r, nil
}

func (m *MemoryRepository) SaveReceipt(ctx context.Context, receipt *OperationReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveReceipt(receipt)
	return nil
}

func (m *MemoryRepository) saveReceipt(receipt *OperationReceipt) {
	if _, ok := m.receipts[receipt.IdempotencyKey]; !ok {
		m.receipts[receipt.IdempotencyKey] = *receipt
	}
}

func (m *MemoryRepository) filter(limit int, keep func(Booking) bool, orderBy func(Booking) time.Time) []Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return orderBy(out[i]).Before(orderBy(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clone(b Booking) Booking {
	b.Seats = append(SeatNumbers(nil), b.Seats...)
	if b.HeldUntil != nil {
		t := *b.HeldUntil
		b.HeldUntil = &t
	}
	if b.SeatsReleasedAt != nil {
		t := *b.SeatsReleasedAt
		b.SeatsReleasedAt = &t
	}
	return b
}
