package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tripseat/internal/inventory"
	"tripseat/internal/realtime"
	"tripseat/internal/shared/apperr"
	"tripseat/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// SeatArbiter is the slice of the arbiter bookings need (avoids importing
// the concrete type into tests)
type SeatArbiter interface {
	ClaimSeats(ctx context.Context, tripID string, seats []int, bookingID string, target inventory.SeatState, heldUntil *time.Time) ([]inventory.Seat, error)
	ReleaseSeats(ctx context.Context, tripID string, seats []int, expectedOwner string) ([]inventory.Seat, error)
	PromoteSeats(ctx context.Context, tripID string, seats []int, owner string) ([]inventory.Seat, error)
	Store() inventory.Store
}

// Ledger is the payment collaborator told about confirmed bookings
type Ledger interface {
	BookingConfirmed(ctx context.Context, bookingID uuid.UUID, amountDue float64) error
}

// Config tunes the lifecycle manager
type Config struct {
	HoldTTL            time.Duration
	TicketPrefix       string
	LedgerTimeout      time.Duration
	SweepBatchSize     int
	NoShowReleaseGrace time.Duration
	Now                func() time.Time
}

func (c *Config) withDefaults() {
	if c.HoldTTL <= 0 {
		c.HoldTTL = 10 * time.Minute
	}
	if c.TicketPrefix == "" {
		c.TicketPrefix = "TRP"
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = 10 * time.Second
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 100
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CreateResult is the outcome of CreateBooking. Duplicate is set when the
// idempotency key had already produced Booking.
type CreateResult struct {
	Booking   *Booking
	Duplicate bool
}

// Service interface defines the contract for booking business logic
type Service interface {
	CreateBooking(ctx context.Context, req CreateBookingRequest) (*CreateResult, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*Booking, error)
	GetBookingByTicket(ctx context.Context, ticketRef string) (*Booking, error)
	GetTripManifest(ctx context.Context, tripID string) ([]Booking, error)

	Confirm(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error)
	CheckIn(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error)
	CheckInByTicket(ctx context.Context, ticketRef string, key string) (*Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, reason string, key string) (*Booking, error)
	MarkNoShow(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error)
	Refund(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error)
	ReleaseNoShowSeats(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error)

	// Replay returns the booking a receipt-tracked intent already produced.
	// ok is false when key has not been applied yet.
	Replay(ctx context.Context, key string, op Operation, bookingID uuid.UUID) (*Booking, bool, error)

	// CommitReschedule persists the new trip and seats of a CONFIRMED
	// booking read at revision expectedRevision.
	CommitReschedule(ctx context.Context, booking *Booking, expectedRevision int64, tripID string, seats SeatNumbers, key string) (*Booking, error)

	// Background maintenance
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
	ReleaseOverdueNoShows(ctx context.Context, now time.Time) (int, error)
	Reconcile(ctx context.Context, tripID string) (int, error)

	// Shutdown waits for in-flight ledger notifications
	Shutdown(ctx context.Context) error
}

// service implements the Service interface
type service struct {
	repo      Repository
	arbiter   SeatArbiter
	ledger    Ledger
	publisher realtime.Publisher
	cfg       Config
	log       *logger.Logger

	inflight singleflight.Group
	ledgerWG sync.WaitGroup
}

// NewService creates a new booking service instance
func NewService(repo Repository, arbiter SeatArbiter, ledger Ledger, publisher realtime.Publisher, cfg Config) Service {
	cfg.withDefaults()
	if publisher == nil {
		publisher = realtime.Discard
	}
	return &service{
		repo:      repo,
		arbiter:   arbiter,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		log:       logger.GetDefault(),
	}
}

// CreateBooking claims the requested seats and records the booking. A key
// that already produced a booking returns it with Duplicate set.
func (s *service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*CreateResult, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	// Step 1: Idempotency lookup
	if existing, err := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return s.duplicate(ctx, existing)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	// Step 2: Collapse concurrent identical requests in this process
	executed := false
	v, err, _ := s.inflight.Do(req.IdempotencyKey, func() (interface{}, error) {
		executed = true
		return s.createOnce(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	result := *v.(*CreateResult)
	if !executed {
		result.Duplicate = true
	}
	return &result, nil
}

func (s *service) createOnce(ctx context.Context, req CreateBookingRequest) (*CreateResult, error) {
	now := s.cfg.Now()
	channel := req.Channel
	if channel == "" {
		channel = ChannelDesk
	}

	ticketRef, err := generateTicketRef(s.cfg.TicketPrefix, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ticket reference: %w", err)
	}

	heldUntil := now.Add(s.cfg.HoldTTL)
	booking := &Booking{
		ID:              uuid.New(),
		TripID:          req.TripID,
		Passenger:       req.Passenger,
		Seats:           NewSeatNumbers(req.Seats),
		Status:          StatusHeld,
		Channel:         channel,
		IdempotencyKey:  req.IdempotencyKey,
		TicketRef:       ticketRef,
		AmountDue:       req.AmountDue,
		HeldUntil:       &heldUntil,
		Revision:        1,
		CreatedAt:       now,
		StatusChangedAt: now,
		UpdatedAt:       now,
	}

	// Step 3: Claim seats as HELD
	if err := s.claimForCreate(ctx, booking, now); err != nil {
		if errors.Is(err, apperr.ErrSeatsUnavailable) {
			// The same key may have won the seats from another process.
			if existing, lookupErr := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
				return s.duplicate(ctx, existing)
			}
		}
		return nil, err
	}

	// Step 4: Persist the booking
	if err := s.repo.Create(ctx, booking); err != nil {
		s.releaseQuietly(ctx, booking)
		if errors.Is(err, ErrDuplicateKey) {
			existing, lookupErr := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return s.duplicate(ctx, existing)
		}
		return nil, err
	}
	s.log.LogBookingCreated(ctx, booking.ID.String(), booking.TripID, booking.Status.String(), booking.Seats)
	s.publish(ctx, booking)

	// Step 5: Desk bookings are committed on the spot. A failure leaves the
	// booking HELD; a retry with the same key finishes the confirm.
	if channel == ChannelDesk {
		confirmed, err := s.confirmDesk(ctx, booking)
		if err != nil {
			return nil, err
		}
		booking = confirmed
	}

	return &CreateResult{Booking: booking}, nil
}

// duplicate answers a create whose key already produced existing. A desk
// booking is only reported once it is confirmed, so an earlier confirm that
// failed is completed here.
func (s *service) duplicate(ctx context.Context, existing *Booking) (*CreateResult, error) {
	if existing.Channel != ChannelDesk || existing.Status != StatusHeld {
		return &CreateResult{Booking: existing, Duplicate: true}, nil
	}
	if existing.HoldExpired(s.cfg.Now()) {
		return nil, fmt.Errorf("%w: desk booking %s was never confirmed and its hold has expired",
			apperr.ErrInvalidState, existing.ID)
	}

	confirmed, err := s.confirmDesk(ctx, existing)
	if err != nil {
		return nil, err
	}
	return &CreateResult{Booking: confirmed, Duplicate: true}, nil
}

// confirmDesk confirms a desk booking. Losing to a concurrent call with the
// same key that already confirmed it counts as success.
func (s *service) confirmDesk(ctx context.Context, b *Booking) (*Booking, error) {
	confirmed, err := s.confirm(ctx, b, intent{})
	if err == nil {
		return confirmed, nil
	}
	current, lookupErr := s.repo.GetByID(ctx, b.ID)
	if lookupErr == nil && current.Status != StatusHeld && current.Status != StatusCancelled {
		return current, nil
	}
	return nil, fmt.Errorf("failed to confirm desk booking: %w", err)
}

// claimForCreate claims HELD seats. Seats blocked only by holds that have
// already run out are expired on the spot and the claim is tried once more.
func (s *service) claimForCreate(ctx context.Context, booking *Booking, now time.Time) error {
	_, err := s.arbiter.ClaimSeats(ctx, booking.TripID, booking.Seats, booking.Owner(), inventory.StateHeld, booking.HeldUntil)
	if err == nil {
		return nil
	}
	contended, ok := apperr.UnavailableSeats(err)
	if !ok || !s.expireStaleHolds(ctx, booking.TripID, contended, now) {
		return err
	}
	_, err = s.arbiter.ClaimSeats(ctx, booking.TripID, booking.Seats, booking.Owner(), inventory.StateHeld, booking.HeldUntil)
	return err
}

// expireStaleHolds cancels the HELD bookings behind expired seat holds and
// reports whether every contended seat was freed that way
func (s *service) expireStaleHolds(ctx context.Context, tripID string, seats []int, now time.Time) bool {
	owners := map[string]bool{}
	for _, n := range seats {
		seat, err := s.arbiter.Store().ReadSeat(ctx, tripID, n)
		if err != nil || !seat.HoldExpired(now) {
			return false
		}
		owners[seat.Owner] = true
	}
	for owner := range owners {
		id, err := uuid.Parse(owner)
		if err != nil {
			return false
		}
		b, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return false
		}
		if !b.HoldExpired(now) {
			return false
		}
		if err := s.expire(ctx, b, now); err != nil {
			return false
		}
	}
	return true
}

// GetBooking retrieves a booking by ID
func (s *service) GetBooking(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, bookingID)
}

// GetBookingByTicket retrieves a booking by its ticket reference
func (s *service) GetBookingByTicket(ctx context.Context, ticketRef string) (*Booking, error) {
	return s.repo.GetByTicketRef(ctx, strings.ToUpper(strings.TrimSpace(ticketRef)))
}

// GetTripManifest lists every booking on a trip
func (s *service) GetTripManifest(ctx context.Context, tripID string) ([]Booking, error) {
	return s.repo.ListByTrip(ctx, tripID)
}

// Confirm commits a HELD booking: seats become BOOKED, then the ledger is told.
func (s *service) Confirm(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error) {
	return s.applyOnce(ctx, key, OpConfirm, bookingID, func(b *Booking, in intent) (*Booking, error) {
		if b.Status == StatusHeld && b.HoldExpired(s.cfg.Now()) {
			return nil, fmt.Errorf("%w: hold on booking %s has expired", apperr.ErrInvalidState, b.ID)
		}
		return s.confirm(ctx, b, in)
	})
}

func (s *service) confirm(ctx context.Context, b *Booking, in intent) (*Booking, error) {
	if !b.Status.CanTransitionTo(StatusConfirmed) || b.Status != StatusHeld {
		return nil, invalidTransition(b, StatusConfirmed)
	}

	// Seats first: a booking must never read CONFIRMED while its seats are
	// still HELD or already gone.
	if _, err := s.arbiter.PromoteSeats(ctx, b.TripID, b.Seats, b.Owner()); err != nil {
		if errors.Is(err, apperr.ErrOwnershipMismatch) {
			return nil, fmt.Errorf("%w: seats of booking %s are no longer held", apperr.ErrInvalidState, b.ID)
		}
		return nil, err
	}

	updated, err := s.transition(ctx, b, StatusConfirmed, nil, in)
	if err != nil {
		return nil, err
	}
	s.notifyLedger(updated)
	return updated, nil
}

// CheckIn boards a CONFIRMED booking
func (s *service) CheckIn(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error) {
	return s.applyOnce(ctx, key, OpCheckIn, bookingID, func(b *Booking, in intent) (*Booking, error) {
		return s.checkIn(ctx, b, in)
	})
}

// CheckInByTicket boards the booking behind a scanned ticket reference
func (s *service) CheckInByTicket(ctx context.Context, ticketRef string, key string) (*Booking, error) {
	b, err := s.GetBookingByTicket(ctx, ticketRef)
	if err != nil {
		return nil, err
	}
	return s.applyOnce(ctx, key, OpCheckIn, b.ID, func(b *Booking, in intent) (*Booking, error) {
		return s.checkIn(ctx, b, in)
	})
}

func (s *service) checkIn(ctx context.Context, b *Booking, in intent) (*Booking, error) {
	switch b.Status {
	case StatusCheckedIn:
		return nil, fmt.Errorf("booking %s: %w", b.ID, apperr.ErrAlreadyCheckedIn)
	case StatusConfirmed:
		return s.transition(ctx, b, StatusCheckedIn, nil, in)
	}
	return nil, invalidTransition(b, StatusCheckedIn)
}

// Cancel releases a HELD or CONFIRMED booking's seats and records reason
func (s *service) Cancel(ctx context.Context, bookingID uuid.UUID, reason string, key string) (*Booking, error) {
	return s.applyOnce(ctx, key, OpCancel, bookingID, func(b *Booking, in intent) (*Booking, error) {
		if !b.Status.CanBeCancelled() {
			return nil, invalidTransition(b, StatusCancelled)
		}
		return s.cancel(ctx, b, reason, in)
	})
}

// cancel commits the status first so a racing check-in or confirm loses on
// the revision check before any seat is touched
func (s *service) cancel(ctx context.Context, b *Booking, reason string, in intent) (*Booking, error) {
	now := s.cfg.Now()
	updated, err := s.transition(ctx, b, StatusCancelled, func(next *Booking) {
		next.CancelReason = reason
		next.SeatsReleasedAt = &now
	}, in)
	if err != nil {
		return nil, err
	}
	s.releaseQuietly(ctx, updated)
	return updated, nil
}

// MarkNoShow flags a CONFIRMED booking. Seats stay BOOKED.
func (s *service) MarkNoShow(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error) {
	return s.applyOnce(ctx, key, OpMarkNoShow, bookingID, func(b *Booking, in intent) (*Booking, error) {
		if b.Status != StatusConfirmed {
			return nil, invalidTransition(b, StatusNoShow)
		}
		return s.transition(ctx, b, StatusNoShow, nil, in)
	})
}

// Refund closes a CANCELLED or NO_SHOW booking. NO_SHOW seats still held
// are released.
func (s *service) Refund(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error) {
	return s.applyOnce(ctx, key, OpRefund, bookingID, func(b *Booking, in intent) (*Booking, error) {
		if !b.Status.CanTransitionTo(StatusRefunded) {
			return nil, invalidTransition(b, StatusRefunded)
		}
		mustRelease := b.SeatsReleasedAt == nil
		now := s.cfg.Now()
		updated, err := s.transition(ctx, b, StatusRefunded, func(next *Booking) {
			if mustRelease {
				next.SeatsReleasedAt = &now
			}
		}, in)
		if err != nil {
			return nil, err
		}
		if mustRelease {
			s.releaseQuietly(ctx, updated)
		}
		return updated, nil
	})
}

// ReleaseNoShowSeats frees a NO_SHOW booking's seats for walk-up sale
func (s *service) ReleaseNoShowSeats(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error) {
	return s.applyOnce(ctx, key, OpReleaseSeats, bookingID, func(b *Booking, in intent) (*Booking, error) {
		return s.releaseNoShow(ctx, b, in)
	})
}

func (s *service) releaseNoShow(ctx context.Context, b *Booking, in intent) (*Booking, error) {
	if b.Status != StatusNoShow {
		return nil, fmt.Errorf("%w: booking %s is %s, not %s", apperr.ErrInvalidState, b.ID, b.Status, StatusNoShow)
	}
	if b.SeatsReleasedAt != nil {
		return b, nil
	}

	now := s.cfg.Now()
	expected := b.Revision
	next := *b
	next.SeatsReleasedAt = &now
	next.UpdatedAt = now
	if err := s.repo.UpdateWithReceipt(ctx, &next, expected, in.receipt(&next, now)); err != nil {
		return nil, staleAsInvalid(err)
	}
	s.releaseQuietly(ctx, &next)
	return &next, nil
}

// Replay returns the booking a receipt-tracked intent already produced
func (s *service) Replay(ctx context.Context, key string, op Operation, bookingID uuid.UUID) (*Booking, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	receipt, err := s.repo.GetReceipt(ctx, key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if receipt.Operation != op || receipt.BookingID != bookingID {
		return nil, false, fmt.Errorf("%w: idempotency key %q was used for %s on booking %s",
			apperr.ErrValidation, key, receipt.Operation, receipt.BookingID)
	}
	b, err := s.repo.GetByID(ctx, receipt.BookingID)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// CommitReschedule writes the booking's new trip and seats
func (s *service) CommitReschedule(ctx context.Context, booking *Booking, expectedRevision int64, tripID string, seats SeatNumbers, key string) (*Booking, error) {
	if booking.Status != StatusConfirmed {
		return nil, invalidTransition(booking, StatusConfirmed)
	}
	now := s.cfg.Now()
	next := *booking
	next.TripID = tripID
	next.Seats = seats
	next.StatusChangedAt = now
	next.UpdatedAt = now
	in := intent{key: key, op: OpReschedule}
	if err := s.repo.UpdateWithReceipt(ctx, &next, expectedRevision, in.receipt(&next, now)); err != nil {
		return nil, staleAsInvalid(err)
	}
	s.log.LogBookingStatusChanged(ctx, next.ID.String(), booking.Status.String(), next.Status.String())
	s.publish(ctx, &next)
	return &next, nil
}

// ExpireHolds cancels HELD bookings whose hold has run out and frees their seats
func (s *service) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ListExpiredHolds(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range expired {
		if err := s.expire(ctx, &expired[i], now); err != nil {
			if errors.Is(err, apperr.ErrInvalidState) {
				// confirmed or cancelled meanwhile
				continue
			}
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (s *service) expire(ctx context.Context, b *Booking, now time.Time) error {
	updated, err := s.transition(ctx, b, StatusCancelled, func(next *Booking) {
		next.CancelReason = "hold expired"
		next.SeatsReleasedAt = &now
	}, intent{})
	if err != nil {
		return err
	}
	s.releaseQuietly(ctx, updated)
	return nil
}

// ReleaseOverdueNoShows frees seats of NO_SHOW bookings older than the
// configured grace. A zero grace disables it.
func (s *service) ReleaseOverdueNoShows(ctx context.Context, now time.Time) (int, error) {
	if s.cfg.NoShowReleaseGrace <= 0 {
		return 0, nil
	}
	overdue, err := s.repo.ListNoShowsBefore(ctx, now.Add(-s.cfg.NoShowReleaseGrace), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range overdue {
		if _, err := s.releaseNoShow(ctx, &overdue[i], intent{}); err != nil {
			if errors.Is(err, apperr.ErrInvalidState) {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

// Reconcile brings seat rows back in line with booking status after a
// crash between a seat write and a booking write. It returns the number of
// seats repaired.
func (s *service) Reconcile(ctx context.Context, tripID string) (int, error) {
	now := s.cfg.Now()
	seats, err := s.arbiter.Store().GetSeats(ctx, tripID)
	if err != nil {
		return 0, err
	}
	bookings, err := s.repo.ListByTrip(ctx, tripID)
	if err != nil {
		return 0, err
	}

	byOwner := make(map[string]*Booking, len(bookings))
	for i := range bookings {
		byOwner[bookings[i].Owner()] = &bookings[i]
	}

	repaired := 0
	for _, seat := range seats {
		if seat.Owner == "" {
			continue
		}
		owner, known := byOwner[seat.Owner]
		listed := known && owner.Seats.Contains(seat.SeatNumber)
		switch {
		case listed && owner.Status.OwnsBookedSeats() && seat.State == inventory.StateHeld:
			if _, err := s.arbiter.PromoteSeats(ctx, tripID, []int{seat.SeatNumber}, seat.Owner); err == nil {
				repaired++
			}
		case known && !owner.HoldsSeats():
			if s.releaseSeat(ctx, seat) {
				repaired++
			}
		case !listed && seat.HoldExpired(now):
			if s.strayHold(ctx, seat) && s.releaseSeat(ctx, seat) {
				repaired++
			}
		}
	}

	if repaired > 0 {
		s.log.LogReconciled(ctx, tripID, repaired)
	}
	return repaired, nil
}

// strayHold reports whether an expired hold is claimed by no live booking.
// The owner is read afresh so a reschedule committed since the trip's
// bookings were listed keeps the seat.
func (s *service) strayHold(ctx context.Context, seat inventory.Seat) bool {
	id, err := uuid.Parse(seat.Owner)
	if err != nil {
		return true
	}
	b, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return true
	}
	if err != nil {
		return false
	}
	return !b.HoldsSeats() || b.TripID != seat.TripID || !b.Seats.Contains(seat.SeatNumber)
}

func (s *service) releaseSeat(ctx context.Context, seat inventory.Seat) bool {
	_, err := s.arbiter.ReleaseSeats(ctx, seat.TripID, []int{seat.SeatNumber}, seat.Owner)
	return err == nil
}

// Shutdown waits for in-flight ledger notifications
func (s *service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.ledgerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// intent names the receipt-tracked operation behind a write. The zero
// intent writes no receipt.
type intent struct {
	key string
	op  Operation
}

func (in intent) receipt(b *Booking, now time.Time) *OperationReceipt {
	if in.key == "" {
		return nil
	}
	return &OperationReceipt{
		IdempotencyKey: in.key,
		Operation:      in.op,
		BookingID:      b.ID,
		Outcome:        b.Status,
		CreatedAt:      now,
	}
}

// applyOnce runs fn on the current booking unless key already produced a
// result. fn records the receipt together with its booking write; calls
// sharing a key in this process run once.
func (s *service) applyOnce(ctx context.Context, key string, op Operation, bookingID uuid.UUID, fn func(*Booking, intent) (*Booking, error)) (*Booking, error) {
	if key == "" {
		return s.apply(ctx, intent{}, bookingID, fn)
	}
	v, err, _ := s.inflight.Do(fmt.Sprintf("%s:%s:%s", op, bookingID, key), func() (interface{}, error) {
		return s.apply(ctx, intent{key: key, op: op}, bookingID, fn)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Booking), nil
}

func (s *service) apply(ctx context.Context, in intent, bookingID uuid.UUID, fn func(*Booking, intent) (*Booking, error)) (*Booking, error) {
	if prior, ok, err := s.Replay(ctx, in.key, in.op, bookingID); err != nil {
		return nil, err
	} else if ok {
		return prior, nil
	}

	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	updated, err := fn(b, in)
	if err != nil {
		// Another process may have applied the same key meanwhile.
		if errors.Is(err, apperr.ErrInvalidState) || errors.Is(err, apperr.ErrAlreadyCheckedIn) {
			if prior, ok, replayErr := s.Replay(ctx, in.key, in.op, bookingID); replayErr == nil && ok {
				return prior, nil
			}
		}
		return nil, err
	}
	if updated.Revision == b.Revision {
		// fn succeeded without writing the booking
		s.saveReceipt(ctx, in, updated)
	}
	return updated, nil
}

// transition moves b to next with a revision check and publishes the change
func (s *service) transition(ctx context.Context, b *Booking, next Status, mutate func(*Booking), in intent) (*Booking, error) {
	from := b.Status
	expected := b.Revision
	now := s.cfg.Now()
	updated := *b
	if err := updated.transition(next, now); err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&updated)
	}
	if err := s.repo.UpdateWithReceipt(ctx, &updated, expected, in.receipt(&updated, now)); err != nil {
		return nil, staleAsInvalid(err)
	}

	s.log.LogBookingStatusChanged(ctx, updated.ID.String(), from.String(), next.String())
	s.publish(ctx, &updated)
	return &updated, nil
}

// releaseQuietly returns the booking's seats. Ownership mismatches mean
// someone already moved them and are logged, not returned; any other
// failure is left for reconciliation.
func (s *service) releaseQuietly(ctx context.Context, b *Booking) {
	if _, err := s.arbiter.ReleaseSeats(ctx, b.TripID, b.Seats, b.Owner()); err != nil {
		if errors.Is(err, apperr.ErrOwnershipMismatch) {
			s.log.LogStaleRelease(ctx, b.TripID, b.ID.String(), err)
			return
		}
		s.log.ErrorWithContext(ctx, "Failed to release booking seats", err, map[string]interface{}{
			"booking_id": b.ID.String(),
			"trip_id":    b.TripID,
		})
	}
}

func (s *service) saveReceipt(ctx context.Context, in intent, b *Booking) {
	receipt := in.receipt(b, s.cfg.Now())
	if receipt == nil {
		return
	}
	if err := s.repo.SaveReceipt(ctx, receipt); err != nil {
		s.log.ErrorWithContext(ctx, "Failed to save operation receipt", err, map[string]interface{}{
			"idempotency_key": in.key,
			"booking_id":      b.ID.String(),
		})
	}
}

func (s *service) publish(ctx context.Context, b *Booking) {
	changedAt := b.StatusChangedAt
	s.publisher.Publish(ctx, realtime.Delta{
		Kind:            realtime.KindBooking,
		TripID:          b.TripID,
		Version:         b.Revision,
		BookingID:       b.ID.String(),
		Status:          b.Status.String(),
		StatusChangedAt: &changedAt,
		EmittedAt:       s.cfg.Now(),
	})
}

// notifyLedger hands the confirmed booking to the payment collaborator
// without holding up the caller
func (s *service) notifyLedger(b *Booking) {
	if s.ledger == nil {
		return
	}
	id, amount := b.ID, b.AmountDue
	s.ledgerWG.Add(1)
	go func() {
		defer s.ledgerWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LedgerTimeout)
		defer cancel()
		if err := s.ledger.BookingConfirmed(ctx, id, amount); err != nil {
			s.log.ErrorWithContext(ctx, "Failed to notify ledger", err, map[string]interface{}{
				"booking_id": id.String(),
				"amount_due": amount,
			})
		}
	}()
}

func validateCreate(req CreateBookingRequest) error {
	switch {
	case strings.TrimSpace(req.TripID) == "":
		return fmt.Errorf("%w: trip_id is required", apperr.ErrValidation)
	case strings.TrimSpace(req.IdempotencyKey) == "":
		return fmt.Errorf("%w: idempotency_key is required", apperr.ErrValidation)
	case len(req.Seats) == 0:
		return fmt.Errorf("%w: at least one seat is required", apperr.ErrValidation)
	case strings.TrimSpace(req.Passenger.Name) == "":
		return fmt.Errorf("%w: passenger name is required", apperr.ErrValidation)
	case req.Channel != "" && !req.Channel.IsValid():
		return fmt.Errorf("%w: unknown channel %q", apperr.ErrValidation, req.Channel)
	case req.AmountDue < 0:
		return fmt.Errorf("%w: amount_due must not be negative", apperr.ErrValidation)
	}
	return nil
}

func invalidTransition(b *Booking, next Status) error {
	return fmt.Errorf("%w: booking %s cannot move from %s to %s", apperr.ErrInvalidState, b.ID, b.Status, next)
}

func staleAsInvalid(err error) error {
	if errors.Is(err, ErrStale) {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidState, err)
	}
	return err
}
