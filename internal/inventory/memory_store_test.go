package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tripseat/internal/realtime"
	"tripseat/internal/shared/apperr"
)

type recorder struct {
	mu     sync.Mutex
	deltas []realtime.Delta
}

func (r *recorder) Publish(_ context.Context, d realtime.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, d)
}

func TestProvisionTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.ProvisionTrip(ctx, "9021", 0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("zero capacity err = %v", err)
	}
	if err := store.ProvisionTrip(ctx, "9021", 3); err != nil {
		t.Fatal(err)
	}
	seat, _ := store.ReadSeat(ctx, "9021", 2)
	if _, err := store.CompareAndSwap(ctx, "9021", 2, seat.Version, Transition{State: StateBooked, Owner: "b1"}); err != nil {
		t.Fatal(err)
	}

	// A second provision keeps existing rows
	if err := store.ProvisionTrip(ctx, "9021", 3); err != nil {
		t.Fatal(err)
	}
	seats, err := store.GetSeats(ctx, "9021")
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 3 || seats[1].State != StateBooked || seats[1].Version != 2 {
		t.Fatalf("seats after re-provision = %+v", seats)
	}

	if _, err := store.GetSeats(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown trip err = %v", err)
	}
	if _, err := store.ReadSeat(ctx, "9021", 4); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("seat out of range err = %v", err)
	}
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 11, 2, 8, 0, 0, 0, time.UTC)
	rec := &recorder{}
	store := NewMemoryStore(WithPublisher(rec), WithClock(func() time.Time { return now }))
	if err := store.ProvisionTrip(ctx, "T", 2); err != nil {
		t.Fatal(err)
	}

	until := now.Add(2 * time.Minute)
	held, err := store.CompareAndSwap(ctx, "T", 1, 1, Transition{State: StateHeld, Owner: "b1", HeldUntil: &until})
	if err != nil {
		t.Fatal(err)
	}
	if held.Version != 2 || held.Owner != "b1" || held.HeldUntil == nil || !held.HeldUntil.Equal(until) {
		t.Fatalf("held = %+v", held)
	}
	if !held.HoldExpired(until) || held.HoldExpired(now) {
		t.Fatal("hold expiry boundary is wrong")
	}

	if _, err := store.CompareAndSwap(ctx, "T", 1, 1, Transition{State: StateBooked, Owner: "b2"}); !errors.Is(err, apperr.ErrVersionConflict) {
		t.Fatalf("stale version err = %v", err)
	}

	booked, err := store.CompareAndSwap(ctx, "T", 1, 2, Transition{State: StateBooked, Owner: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	if booked.HeldUntil != nil {
		t.Fatalf("booked seat kept its hold deadline: %+v", booked)
	}

	freed, err := store.CompareAndSwap(ctx, "T", 1, 3, Transition{State: StateAvailable, Owner: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	if freed.Owner != "" || freed.Version != 4 {
		t.Fatalf("freed = %+v", freed)
	}

	if _, err := store.CompareAndSwap(ctx, "T", 2, 1, Transition{State: StateHeld}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("owner-less hold err = %v", err)
	}
	if _, err := store.CompareAndSwap(ctx, "T", 2, 1, Transition{State: "GONE"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("unknown state err = %v", err)
	}

	if len(rec.deltas) != 3 {
		t.Fatalf("deltas = %d, want one per successful swap", len(rec.deltas))
	}
	for i, d := range rec.deltas {
		if d.Kind != realtime.KindSeat || d.SeatNumber != 1 || d.Version != int64(i+2) {
			t.Fatalf("delta %d = %+v", i, d)
		}
	}
}

func TestCompareAndSwapSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.ProvisionTrip(ctx, "T", 1); err != nil {
		t.Fatal(err)
	}

	const racers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			if _, err := store.CompareAndSwap(ctx, "T", 1, 1, Transition{State: StateHeld, Owner: owner}); err == nil {
				mu.Lock()
				winners = append(winners, owner)
				mu.Unlock()
			} else if !errors.Is(err, apperr.ErrVersionConflict) {
				t.Errorf("unexpected err %v", err)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	seat, _ := store.ReadSeat(ctx, "T", 1)
	if seat.Owner != winners[0] || seat.Version != 2 {
		t.Fatalf("seat = %+v", seat)
	}
}

func TestNewSeatMap(t *testing.T) {
	m := NewSeatMap("T", []Seat{
		{SeatNumber: 1, State: StateAvailable},
		{SeatNumber: 2, State: StateBlocked},
		{SeatNumber: 3, State: StateAvailable},
	})
	if m.Capacity != 3 || m.Available != 2 {
		t.Fatalf("seat map = %+v", m)
	}
}
