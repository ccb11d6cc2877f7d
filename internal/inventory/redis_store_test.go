package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"tripseat/internal/realtime"
	"tripseat/internal/shared/apperr"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, opts...)
	if err := store.PreloadScripts(context.Background()); err != nil {
		t.Fatalf("PreloadScripts: %v", err)
	}
	return store, mr
}

func TestRedisProvisionTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	if err := store.ProvisionTrip(ctx, "9021", 3); err != nil {
		t.Fatal(err)
	}
	if got, _ := mr.Get("tripseat:trip:9021:capacity"); got != "3" {
		t.Fatalf("capacity key = %q", got)
	}

	seat, err := store.ReadSeat(ctx, "9021", 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CompareAndSwap(ctx, "9021", 2, seat.Version, Transition{State: StateBooked, Owner: "b1"}); err != nil {
		t.Fatal(err)
	}

	// A second provision keeps existing seats
	if err := store.ProvisionTrip(ctx, "9021", 3); err != nil {
		t.Fatal(err)
	}
	seats, err := store.GetSeats(ctx, "9021")
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 3 || seats[1].State != StateBooked || seats[1].Version != 2 || seats[1].Owner != "b1" {
		t.Fatalf("seats after re-provision = %+v", seats)
	}
	if seats[0].State != StateAvailable || seats[0].Version != 1 {
		t.Fatalf("seat 1 = %+v", seats[0])
	}

	if _, err := store.GetSeats(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown trip err = %v", err)
	}
	if err := store.ProvisionTrip(ctx, "9022", 0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("zero capacity err = %v", err)
	}
}

func TestRedisCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 11, 2, 8, 0, 0, 0, time.UTC)
	rec := &recorder{}
	store, _ := newRedisStore(t, WithPublisher(rec), WithClock(func() time.Time { return now }))
	if err := store.ProvisionTrip(ctx, "T", 2); err != nil {
		t.Fatal(err)
	}

	until := now.Add(2 * time.Minute)
	held, err := store.CompareAndSwap(ctx, "T", 1, 1, Transition{State: StateHeld, Owner: "b1", HeldUntil: &until})
	if err != nil {
		t.Fatal(err)
	}
	if held.Version != 2 {
		t.Fatalf("held version = %d", held.Version)
	}

	read, err := store.ReadSeat(ctx, "T", 1)
	if err != nil {
		t.Fatal(err)
	}
	if read.State != StateHeld || read.Owner != "b1" || read.Version != 2 {
		t.Fatalf("read = %+v", read)
	}
	if read.HeldUntil == nil || !read.HeldUntil.Equal(until) {
		t.Fatalf("held_until = %v, want %v", read.HeldUntil, until)
	}
	if !read.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at = %v", read.UpdatedAt)
	}

	if _, err := store.CompareAndSwap(ctx, "T", 1, 1, Transition{State: StateBooked, Owner: "b2"}); !errors.Is(err, apperr.ErrVersionConflict) {
		t.Fatalf("stale version err = %v", err)
	}
	if _, err := store.CompareAndSwap(ctx, "T", 3, 1, Transition{State: StateHeld, Owner: "b1"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing seat err = %v", err)
	}
	if _, err := store.CompareAndSwap(ctx, "T", 2, 1, Transition{State: StateBooked}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("owner-less booking err = %v", err)
	}

	freed, err := store.CompareAndSwap(ctx, "T", 1, 2, ToAvailable())
	if err != nil {
		t.Fatal(err)
	}
	read, _ = store.ReadSeat(ctx, "T", 1)
	if read.State != StateAvailable || read.Owner != "" || read.HeldUntil != nil || read.Version != freed.Version {
		t.Fatalf("freed = %+v", read)
	}

	if len(rec.deltas) != 2 {
		t.Fatalf("deltas = %d, want one per successful swap", len(rec.deltas))
	}
	for i, d := range rec.deltas {
		if d.Kind != realtime.KindSeat || d.Version != int64(i+2) {
			t.Fatalf("delta %d = %+v", i, d)
		}
	}
}
