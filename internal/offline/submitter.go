package offline

import (
	"context"
	"fmt"

	"tripseat/internal/bookings"
	"tripseat/internal/shared/apperr"

	"github.com/google/uuid"
)

// Result is what the engine reported for an applied operation
type Result struct {
	BookingID string
	Status    string
}

// Submitter delivers one operation to the engine. Errors carry the apperr
// taxonomy: business errors are final, anything else is retried.
type Submitter interface {
	Submit(ctx context.Context, op Operation) (Result, error)
}

// BookingService is the engine contract the direct submitter calls
type BookingService interface {
	CreateBooking(ctx context.Context, req bookings.CreateBookingRequest) (*bookings.CreateResult, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, reason string, key string) (*bookings.Booking, error)
	CheckIn(ctx context.Context, bookingID uuid.UUID, key string) (*bookings.Booking, error)
	CheckInByTicket(ctx context.Context, ticketRef string, key string) (*bookings.Booking, error)
	MarkNoShow(ctx context.Context, bookingID uuid.UUID, key string) (*bookings.Booking, error)
}

// Rescheduler moves bookings between seats
type Rescheduler interface {
	Reschedule(ctx context.Context, bookingID uuid.UUID, tripID string, seats []int, key string) (*bookings.Booking, error)
}

// DirectSubmitter applies operations against an in-process engine
type DirectSubmitter struct {
	bookings    BookingService
	rescheduler Rescheduler
}

func NewDirectSubmitter(service BookingService, rescheduler Rescheduler) *DirectSubmitter {
	return &DirectSubmitter{bookings: service, rescheduler: rescheduler}
}

func (d *DirectSubmitter) Submit(ctx context.Context, op Operation) (Result, error) {
	if op.Type == OpCreateBooking {
		req := *op.Create
		req.IdempotencyKey = op.ID
		res, err := d.bookings.CreateBooking(ctx, req)
		if err != nil {
			return Result{}, err
		}
		return resultOf(res.Booking), nil
	}

	if op.Type == OpCheckIn && op.BookingID == "" {
		b, err := d.bookings.CheckInByTicket(ctx, op.CheckIn.TicketRef, op.ID)
		if err != nil {
			return Result{}, err
		}
		return resultOf(b), nil
	}

	id, err := uuid.Parse(op.BookingID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: booking id %q", apperr.ErrValidation, op.BookingID)
	}

	var b *bookings.Booking
	switch op.Type {
	case OpCancelBooking:
		reason := ""
		if op.Cancel != nil {
			reason = op.Cancel.Reason
		}
		b, err = d.bookings.Cancel(ctx, id, reason, op.ID)
	case OpCheckIn:
		b, err = d.bookings.CheckIn(ctx, id, op.ID)
	case OpMarkNoShow:
		b, err = d.bookings.MarkNoShow(ctx, id, op.ID)
	case OpReschedule:
		if d.rescheduler == nil {
			return Result{}, fmt.Errorf("%w: rescheduling is not available", apperr.ErrValidation)
		}
		b, err = d.rescheduler.Reschedule(ctx, id, op.Reschedule.TripID, op.Reschedule.Seats, op.ID)
	default:
		return Result{}, fmt.Errorf("%w: unknown operation %s", apperr.ErrValidation, op.Type)
	}
	if err != nil {
		return Result{}, err
	}
	return resultOf(b), nil
}

func resultOf(b *bookings.Booking) Result {
	return Result{BookingID: b.ID.String(), Status: b.Status.String()}
}
