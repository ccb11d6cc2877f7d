package bookings

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"tripseat/internal/arbiter"
	"tripseat/internal/inventory"
	"tripseat/internal/realtime"
	"tripseat/internal/shared/apperr"

	"github.com/google/uuid"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type ledgerCall struct {
	bookingID uuid.UUID
	amount    float64
}

type fakeLedger struct {
	calls chan ledgerCall
}

func (f *fakeLedger) BookingConfirmed(ctx context.Context, bookingID uuid.UUID, amountDue float64) error {
	f.calls <- ledgerCall{bookingID, amountDue}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	deltas []realtime.Delta
}

func (r *recorder) Publish(ctx context.Context, d realtime.Delta) {
	r.mu.Lock()
	r.deltas = append(r.deltas, d)
	r.mu.Unlock()
}

func (r *recorder) bookingStatuses(id uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.deltas {
		if d.Kind == realtime.KindBooking && d.BookingID == id.String() {
			out = append(out, d.Status)
		}
	}
	return out
}

type fixture struct {
	svc    Service
	store  *inventory.MemoryStore
	repo   *MemoryRepository
	clock  *clock
	ledger *fakeLedger
	events *recorder
}

func newFixture(t *testing.T, trips map[string]int) *fixture {
	t.Helper()
	clk := newClock()
	events := &recorder{}
	store := inventory.NewMemoryStore(inventory.WithClock(clk.Now), inventory.WithPublisher(events))
	for id, capacity := range trips {
		if err := store.ProvisionTrip(context.Background(), id, capacity); err != nil {
			t.Fatalf("ProvisionTrip: %v", err)
		}
	}
	repo := NewMemoryRepository()
	ledger := &fakeLedger{calls: make(chan ledgerCall, 16)}
	svc := NewService(repo, arbiter.New(store), ledger, events, Config{
		HoldTTL:            5 * time.Minute,
		NoShowReleaseGrace: time.Hour,
		Now:                clk.Now,
	})
	return &fixture{svc: svc, store: store, repo: repo, clock: clk, ledger: ledger, events: events}
}

func (f *fixture) create(t *testing.T, key string, trip string, seats []int, channel Channel) (*CreateResult, error) {
	t.Helper()
	return f.svc.CreateBooking(context.Background(), CreateBookingRequest{
		TripID:         trip,
		Seats:          seats,
		Passenger:      Passenger{Name: "Passenger " + key},
		IdempotencyKey: key,
		Channel:        channel,
		AmountDue:      42.5,
	})
}

// assertConsistent checks the booking/seat round-trip invariant
func (f *fixture) assertConsistent(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	b, err := f.repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	seats, err := f.store.GetSeats(ctx, b.TripID)
	if err != nil {
		t.Fatalf("GetSeats: %v", err)
	}

	allBooked := true
	owned := 0
	for _, s := range seats {
		if s.Owner == b.Owner() {
			owned++
		}
		if b.Seats.Contains(s.SeatNumber) && !(s.State == inventory.StateBooked && s.Owner == b.Owner()) {
			allBooked = false
		}
	}
	if b.Status.OwnsBookedSeats() != allBooked {
		t.Errorf("booking %s is %s but all-seats-booked=%v", b.ID, b.Status, allBooked)
	}
	if !b.HoldsSeats() && owned > 0 {
		t.Errorf("booking %s is %s but still owns %d seats", b.ID, b.Status, owned)
	}
}

func (f *fixture) seat(t *testing.T, trip string, n int) inventory.Seat {
	t.Helper()
	s, err := f.store.ReadSeat(context.Background(), trip, n)
	if err != nil {
		t.Fatalf("ReadSeat: %v", err)
	}
	return s
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 4})
	ctx := context.Background()

	// Agent A claims {1,2}.
	a, err := f.create(t, "agent-a", "T", []int{1, 2}, ChannelDesk)
	if err != nil {
		t.Fatalf("agent A: %v", err)
	}
	b1 := a.Booking
	if b1.Status != StatusConfirmed {
		t.Fatalf("B1 status = %s, want CONFIRMED", b1.Status)
	}
	f.assertConsistent(t, b1.ID)

	// Agent B attempts {2,3}.
	_, err = f.create(t, "agent-b-1", "T", []int{2, 3}, ChannelDesk)
	seats, ok := apperr.UnavailableSeats(err)
	if !ok || !reflect.DeepEqual(seats, []int{2}) {
		t.Fatalf("agent B err = %v, want SeatsUnavailable [2]", err)
	}
	if s := f.seat(t, "T", 3); s.State != inventory.StateAvailable {
		t.Fatalf("seat 3 = %s after failed claim, want AVAILABLE", s.State)
	}

	// Agent B retries with {3,4}.
	bRes, err := f.create(t, "agent-b-2", "T", []int{3, 4}, ChannelDesk)
	if err != nil {
		t.Fatalf("agent B retry: %v", err)
	}
	if bRes.Booking.Status != StatusConfirmed {
		t.Fatalf("B2 status = %s, want CONFIRMED", bRes.Booking.Status)
	}
	f.assertConsistent(t, bRes.Booking.ID)

	// Cancel B1.
	cancelled, err := f.svc.Cancel(ctx, b1.ID, "passenger request", "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelReason != "passenger request" {
		t.Fatalf("cancelled = %+v", cancelled)
	}
	for _, n := range []int{1, 2} {
		if s := f.seat(t, "T", n); s.State != inventory.StateAvailable {
			t.Fatalf("seat %d = %s after cancel, want AVAILABLE", n, s.State)
		}
	}
	f.assertConsistent(t, b1.ID)

	// Agent C claims {1,2}.
	c, err := f.create(t, "agent-c", "T", []int{1, 2}, ChannelDesk)
	if err != nil {
		t.Fatalf("agent C: %v", err)
	}
	f.assertConsistent(t, c.Booking.ID)
}

func TestConcurrentOverlappingCreates(t *testing.T) {
	for round := 0; round < 25; round++ {
		f := newFixture(t, map[string]int{"T": 4})

		var wg sync.WaitGroup
		results := make([]*CreateResult, 2)
		errs := make([]error, 2)
		requests := [][]int{{1, 2}, {2, 3}}
		start := make(chan struct{})
		for i := range requests {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				results[i], errs[i] = f.create(t, []string{"x", "y"}[i], "T", requests[i], ChannelDesk)
			}(i)
		}
		close(start)
		wg.Wait()

		wins := 0
		for i := range requests {
			if errs[i] == nil {
				wins++
				f.assertConsistent(t, results[i].Booking.ID)
				continue
			}
			seats, ok := apperr.UnavailableSeats(errs[i])
			if !ok || !reflect.DeepEqual(seats, []int{2}) {
				t.Fatalf("round %d: err = %v, want SeatsUnavailable [2]", round, errs[i])
			}
		}
		if wins != 1 {
			t.Fatalf("round %d: %d winners, want 1", round, wins)
		}
	}
}

func TestCreateBookingIdempotentReplay(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 4})

	first, err := f.create(t, "K", "T", []int{1}, ChannelDesk)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first create flagged as duplicate")
	}
	version := f.seat(t, "T", 1).Version

	second, err := f.create(t, "K", "T", []int{1}, ChannelDesk)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate || second.Booking.ID != first.Booking.ID {
		t.Fatalf("replay = %+v, want duplicate of %s", second, first.Booking.ID)
	}
	if got := f.seat(t, "T", 1).Version; got != version {
		t.Errorf("seat version moved on replay: %d -> %d", version, got)
	}
}

func TestCreateBookingConcurrentSameKey(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 4})

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.create(t, "same-key", "T", []int{2, 3}, ChannelDesk)
			errs[i] = err
			if err == nil {
				ids[i] = res.Booking.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("call %d got booking %s, want %s", i, ids[i], ids[0])
		}
	}
	// Claimed once, confirmed once: AVAILABLE(1) -> HELD(2) -> BOOKED(3)
	if v := f.seat(t, "T", 2).Version; v != 3 {
		t.Errorf("seat 2 version = %d, want 3", v)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 4})
	_, err := f.svc.CreateBooking(context.Background(), CreateBookingRequest{TripID: "T", Seats: []int{1}, IdempotencyKey: "k"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	_, err = f.create(t, "k2", "T", []int{9}, ChannelDesk)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for seat beyond capacity", err)
	}
}

func TestSelfServiceHoldConfirmAndLedger(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 4})
	ctx := context.Background()

	res, err := f.create(t, "web-1", "T", []int{4}, ChannelSelfService)
	if err != nil {
		t.Fatal(err)
	}
	held := res.Booking
	if held.Status != StatusHeld || held.HeldUntil == nil {
		t.Fatalf("booking = %+v, want HELD with deadline", held)
	}
	if s := f.seat(t, "T", 4); s.State != inventory.StateHeld || s.Owner != held.Owner() {
		t.Fatalf("seat 4 = %+v, want HELD by booking", s)
	}

	confirmed, err := f.svc.Confirm(ctx, held.ID, "confirm-1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed || confirmed.HeldUntil != nil {
		t.Fatalf("confirmed = %+v", confirmed)
	}
	f.assertConsistent(t, held.ID)

	select {
	case call := <-f.ledger.calls:
		if call.bookingID != held.ID || call.amount != 42.5 {
			t.Errorf("ledger call = %+v", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ledger was not notified")
	}

	// Replaying the confirm key returns the same result without a second transition.
	again, err := f.svc.Confirm(ctx, held.ID, "confirm-1")
	if err != nil || again.Revision != confirmed.Revision {
		t.Fatalf("replayed confirm = %+v, %v", again, err)
	}
	if err := f.svc.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestConfirmAfterHoldExpiry(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 2})
	res, err := f.create(t, "web", "T", []int{1}, ChannelSelfService)
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(6 * time.Minute)
	if _, err := f.svc.Confirm(context.Background(), res.Booking.ID, ""); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestExpireHoldsFreesSeats(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 3})
	ctx := context.Background()

	res, err := f.create(t, "web", "T", []int{1, 2}, ChannelSelfService)
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(5 * time.Minute)

	n, err := f.svc.ExpireHolds(ctx, f.clock.Now())
	if err != nil || n != 1 {
		t.Fatalf("ExpireHolds = %d, %v; want 1", n, err)
	}
	b, _ := f.repo.GetByID(ctx, res.Booking.ID)
	if b.Status != StatusCancelled || b.CancelReason != "hold expired" {
		t.Fatalf("booking = %+v, want CANCELLED by expiry", b)
	}
	f.assertConsistent(t, b.ID)

	if _, err := f.create(t, "desk", "T", []int{1, 2}, ChannelDesk); err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
}

func TestCreateExpiresStaleHoldBeforeSweep(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 3})

	stale, err := f.create(t, "web", "T", []int{2}, ChannelSelfService)
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(10 * time.Minute)

	res, err := f.create(t, "desk", "T", []int{2, 3}, ChannelDesk)
	if err != nil {
		t.Fatalf("create over expired hold: %v", err)
	}
	if res.Booking.Status != StatusConfirmed {
		t.Fatalf("status = %s", res.Booking.Status)
	}
	old, _ := f.repo.GetByID(context.Background(), stale.Booking.ID)
	if old.Status != StatusCancelled {
		t.Fatalf("stale hold status = %s, want CANCELLED", old.Status)
	}
}

func TestCheckIn(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 2})
	ctx := context.Background()

	held, _ := f.create(t, "web", "T", []int{1}, ChannelSelfService)
	if _, err := f.svc.CheckIn(ctx, held.Booking.ID, ""); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("check-in of HELD err = %v, want ErrInvalidState", err)
	}

	desk, _ := f.create(t, "desk", "T", []int{2}, ChannelDesk)
	checked, err := f.svc.CheckInByTicket(ctx, desk.Booking.TicketRef, "scan-1")
	if err != nil {
		t.Fatalf("CheckInByTicket: %v", err)
	}
	if checked.Status != StatusCheckedIn {
		t.Fatalf("status = %s", checked.Status)
	}
	f.assertConsistent(t, desk.Booking.ID)

	// Same scan replayed is absorbed by the receipt.
	if _, err := f.svc.CheckInByTicket(ctx, desk.Booking.TicketRef, "scan-1"); err != nil {
		t.Fatalf("replayed scan: %v", err)
	}
	// A fresh scan reports the double check-in.
	if _, err := f.svc.CheckIn(ctx, desk.Booking.ID, "scan-2"); !errors.Is(err, apperr.ErrAlreadyCheckedIn) {
		t.Fatalf("second check-in err = %v, want ErrAlreadyCheckedIn", err)
	}
	if _, err := f.svc.CheckInByTicket(ctx, "TRP-NOPE", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown ticket err = %v, want ErrNotFound", err)
	}
}

func TestCancelTwiceIsInvalidState(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 2})
	ctx := context.Background()

	res, _ := f.create(t, "desk", "T", []int{1}, ChannelDesk)
	if _, err := f.svc.Cancel(ctx, res.Booking.ID, "first", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Cancel(ctx, res.Booking.ID, "second", ""); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestReceiptKeyReusedForOtherOperation(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 2})
	ctx := context.Background()

	res, _ := f.create(t, "desk", "T", []int{1}, ChannelDesk)
	if _, err := f.svc.MarkNoShow(ctx, res.Booking.ID, "op-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Refund(ctx, res.Booking.ID, "op-1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestNoShowKeepsSeatsUntilReleased(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 2})
	ctx := context.Background()

	res, _ := f.create(t, "desk", "T", []int{1, 2}, ChannelDesk)
	noShow, err := f.svc.MarkNoShow(ctx, res.Booking.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if noShow.Status != StatusNoShow {
		t.Fatalf("status = %s", noShow.Status)
	}
	if s := f.seat(t, "T", 1); s.State != inventory.StateBooked {
		t.Fatalf("seat 1 = %s, want BOOKED while no-show", s.State)
	}

	released, err := f.svc.ReleaseNoShowSeats(ctx, res.Booking.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if released.SeatsReleasedAt == nil {
		t.Fatal("SeatsReleasedAt not set")
	}
	if s := f.seat(t, "T", 1); s.State != inventory.StateAvailable {
		t.Fatalf("seat 1 = %s after release, want AVAILABLE", s.State)
	}
	f.assertConsistent(t, res.Booking.ID)

	refunded, err := f.svc.Refund(ctx, res.Booking.ID, "")
	if err != nil || refunded.Status != StatusRefunded {
		t.Fatalf("Refund = %+v, %v", refunded, err)
	}
	f.assertConsistent(t, res.Booking.ID)
}

func TestRefundNoShowReleasesSeats(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 1})
	ctx := context.Background()

	res, _ := f.create(t, "desk", "T", []int{1}, ChannelDesk)
	if _, err := f.svc.MarkNoShow(ctx, res.Booking.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Refund(ctx, res.Booking.ID, ""); err != nil {
		t.Fatal(err)
	}
	if s := f.seat(t, "T", 1); s.State != inventory.StateAvailable {
		t.Fatalf("seat 1 = %s, want AVAILABLE", s.State)
	}
	if _, err := f.svc.Refund(ctx, res.Booking.ID, ""); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("second refund err = %v, want ErrInvalidState", err)
	}
}

func TestReleaseOverdueNoShows(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 1})
	ctx := context.Background()

	res, _ := f.create(t, "desk", "T", []int{1}, ChannelDesk)
	if _, err := f.svc.MarkNoShow(ctx, res.Booking.ID, ""); err != nil {
		t.Fatal(err)
	}

	if n, _ := f.svc.ReleaseOverdueNoShows(ctx, f.clock.Now().Add(30*time.Minute)); n != 0 {
		t.Fatalf("released %d before grace", n)
	}
	if n, _ := f.svc.ReleaseOverdueNoShows(ctx, f.clock.Now().Add(2*time.Hour)); n != 1 {
		t.Fatalf("released %d after grace, want 1", n)
	}
	if s := f.seat(t, "T", 1); s.State != inventory.StateAvailable {
		t.Fatalf("seat = %s, want AVAILABLE", s.State)
	}
}

func TestBookingDeltasPublished(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 1})
	res, _ := f.create(t, "desk", "T", []int{1}, ChannelDesk)
	if _, err := f.svc.CheckIn(context.Background(), res.Booking.ID, ""); err != nil {
		t.Fatal(err)
	}
	got := f.events.bookingStatuses(res.Booking.ID)
	want := []string{"HELD", "CONFIRMED", "CHECKED_IN"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("booking deltas = %v, want %v", got, want)
	}
}

func TestReconcileRepairsDisagreement(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 4})
	ctx := context.Background()
	a := arbiter.New(f.store)

	// Confirmed booking whose seats were left HELD (crash before promote).
	confirmed, _ := f.create(t, "web", "T", []int{1}, ChannelSelfService)
	b, _ := f.repo.GetByID(ctx, confirmed.Booking.ID)
	b.Status = StatusConfirmed
	if err := f.repo.Update(ctx, b, b.Revision); err != nil {
		t.Fatal(err)
	}

	// Cancelled booking still owning a seat (crash before release).
	cancelled, _ := f.create(t, "desk", "T", []int{2}, ChannelDesk)
	c, _ := f.repo.GetByID(ctx, cancelled.Booking.ID)
	c.Status = StatusCancelled
	if err := f.repo.Update(ctx, c, c.Revision); err != nil {
		t.Fatal(err)
	}

	// Orphan hold from a create that never stored its booking.
	past := f.clock.Now().Add(-time.Minute)
	if _, err := a.ClaimSeats(ctx, "T", []int{3}, uuid.NewString(), inventory.StateHeld, &past); err != nil {
		t.Fatal(err)
	}

	repaired, err := f.svc.Reconcile(ctx, "T")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if repaired != 3 {
		t.Errorf("repaired = %d, want 3", repaired)
	}
	f.assertConsistent(t, confirmed.Booking.ID)
	f.assertConsistent(t, cancelled.Booking.ID)
	if s := f.seat(t, "T", 3); s.State != inventory.StateAvailable {
		t.Errorf("orphan seat = %s, want AVAILABLE", s.State)
	}
}

// flakyPromote fails the first n promotions
type flakyPromote struct {
	SeatArbiter
	mu       sync.Mutex
	failures int
}

func (f *flakyPromote) PromoteSeats(ctx context.Context, tripID string, seats []int, owner string) ([]inventory.Seat, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("seat store unreachable")
	}
	return f.SeatArbiter.PromoteSeats(ctx, tripID, seats, owner)
}

func TestDeskCreateRetryFinishesConfirm(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 4})
	ctx := context.Background()
	svc := NewService(f.repo, &flakyPromote{SeatArbiter: arbiter.New(f.store), failures: 1}, nil, nil, Config{
		HoldTTL: 5 * time.Minute,
		Now:     f.clock.Now,
	})
	req := CreateBookingRequest{
		TripID:         "T",
		Seats:          []int{2},
		Passenger:      Passenger{Name: "Desk walk-up"},
		IdempotencyKey: "desk-flaky",
		Channel:        ChannelDesk,
	}

	if _, err := svc.CreateBooking(ctx, req); err == nil {
		t.Fatal("first create succeeded despite failed confirm")
	}
	retry, err := svc.CreateBooking(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !retry.Duplicate || retry.Booking.Status != StatusConfirmed {
		t.Fatalf("retry = duplicate %v status %s, want confirmed duplicate", retry.Duplicate, retry.Booking.Status)
	}

	f.clock.Advance(6 * time.Minute)
	if n, err := svc.ExpireHolds(ctx, f.clock.Now()); err != nil || n != 0 {
		t.Fatalf("ExpireHolds = %d, %v", n, err)
	}
	f.assertConsistent(t, retry.Booking.ID)
	if s := f.seat(t, "T", 2); s.State != inventory.StateBooked {
		t.Fatalf("seat = %s, want BOOKED", s.State)
	}
}

func TestDeskCreateRetryAfterHoldExpiredIsRejected(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 4})
	ctx := context.Background()
	svc := NewService(f.repo, &flakyPromote{SeatArbiter: arbiter.New(f.store), failures: 1}, nil, nil, Config{
		HoldTTL: 5 * time.Minute,
		Now:     f.clock.Now,
	})
	req := CreateBookingRequest{
		TripID:         "T",
		Seats:          []int{3},
		Passenger:      Passenger{Name: "Desk walk-up"},
		IdempotencyKey: "desk-late",
		Channel:        ChannelDesk,
	}

	if _, err := svc.CreateBooking(ctx, req); err == nil {
		t.Fatal("first create succeeded despite failed confirm")
	}
	f.clock.Advance(6 * time.Minute)
	if _, err := svc.CreateBooking(ctx, req); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("late retry err = %v, want ErrInvalidState", err)
	}
}

func TestReconcileFreesStrayRescheduleHolds(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 4, "B": 4})
	ctx := context.Background()
	a := arbiter.New(f.store)

	res, err := f.create(t, "desk", "A", []int{1}, ChannelDesk)
	if err != nil {
		t.Fatal(err)
	}
	owner := res.Booking.Owner()

	// A reschedule that claimed new seats and never got further
	until := f.clock.Now().Add(2 * time.Minute)
	if _, err := a.ClaimSeats(ctx, "A", []int{3}, owner, inventory.StateHeld, &until); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ClaimSeats(ctx, "B", []int{2}, owner, inventory.StateHeld, &until); err != nil {
		t.Fatal(err)
	}

	// Live holds are left alone
	for _, trip := range []string{"A", "B"} {
		if n, err := f.svc.Reconcile(ctx, trip); err != nil || n != 0 {
			t.Fatalf("Reconcile %s before expiry = %d, %v", trip, n, err)
		}
	}

	f.clock.Advance(time.Hour)
	for _, trip := range []string{"A", "B"} {
		if n, err := f.svc.Reconcile(ctx, trip); err != nil || n != 1 {
			t.Fatalf("Reconcile %s = %d, %v; want 1 repaired", trip, n, err)
		}
	}
	if s := f.seat(t, "A", 3); s.State != inventory.StateAvailable {
		t.Errorf("A/3 = %s, want AVAILABLE", s.State)
	}
	if s := f.seat(t, "B", 2); s.State != inventory.StateAvailable {
		t.Errorf("B/2 = %s, want AVAILABLE", s.State)
	}
	f.assertConsistent(t, res.Booking.ID)

	if _, err := f.create(t, "after", "B", []int{2}, ChannelDesk); err != nil {
		t.Fatalf("create on freed seat: %v", err)
	}
}

// slowRepository delays booking writes so same-key calls overlap
type slowRepository struct {
	*MemoryRepository
	delay time.Duration
}

func (r *slowRepository) UpdateWithReceipt(ctx context.Context, b *Booking, expected int64, receipt *OperationReceipt) error {
	time.Sleep(r.delay)
	return r.MemoryRepository.UpdateWithReceipt(ctx, b, expected, receipt)
}

func TestSameKeyCancelsOverlap(t *testing.T) {
	f := newFixture(t, map[string]int{"T": 2})
	ctx := context.Background()
	repo := &slowRepository{MemoryRepository: f.repo, delay: 30 * time.Millisecond}
	svc := NewService(repo, arbiter.New(f.store), nil, nil, Config{Now: f.clock.Now})

	res, err := svc.CreateBooking(ctx, CreateBookingRequest{
		TripID:         "T",
		Seats:          []int{1},
		Passenger:      Passenger{Name: "Ada"},
		IdempotencyKey: "create",
		Channel:        ChannelDesk,
	})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Booking.ID

	var (
		wg      sync.WaitGroup
		results [2]*Booking
		errs    [2]error
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			results[i], errs[i] = svc.Cancel(ctx, id, "customer request", "cancel-1")
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if results[i].Status != StatusCancelled {
			t.Fatalf("call %d status = %s", i, results[i].Status)
		}
	}
	receipt, err := f.repo.GetReceipt(ctx, "cancel-1")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.Outcome != StatusCancelled || receipt.BookingID != id {
		t.Fatalf("receipt = %+v", receipt)
	}

	// A later retry replays rather than failing the transition
	again, err := svc.Cancel(ctx, id, "customer request", "cancel-1")
	if err != nil || again.Status != StatusCancelled {
		t.Fatalf("replay = %v, %v", again, err)
	}
}
