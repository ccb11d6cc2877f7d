// Package offline is the client-side operation queue used by desks and
// boarding scanners. Intents are journaled locally first and replayed to
// the engine when connectivity allows, in order per trip.
package offline

import (
	"fmt"
	"strings"
	"time"

	"tripseat/internal/bookings"
	"tripseat/internal/shared/apperr"

	"github.com/go-playground/validator/v10"
)

// OpType names the intent an operation carries
type OpType string

const (
	OpCreateBooking OpType = "CREATE_BOOKING"
	OpCancelBooking OpType = "CANCEL_BOOKING"
	OpCheckIn       OpType = "CHECK_IN"
	OpReschedule    OpType = "RESCHEDULE"
	OpMarkNoShow    OpType = "MARK_NO_SHOW"
)

// CancelPayload is the body of a CANCEL_BOOKING operation
type CancelPayload struct {
	Reason string `json:"reason,omitempty" binding:"max=500"`
}

// CheckInPayload is the body of a CHECK_IN operation. TicketRef is used
// when the target booking is not known by id.
type CheckInPayload struct {
	TicketRef string `json:"ticket_ref,omitempty" binding:"max=32"`
}

// ReschedulePayload is the body of a RESCHEDULE operation
type ReschedulePayload struct {
	TripID string `json:"trip_id" binding:"required,max=64"`
	Seats  []int  `json:"seats" binding:"required,min=1,max=20,dive,min=1"`
}

// Operation is one queued intent. ID doubles as the idempotency key sent
// to the engine.
type Operation struct {
	ID        string `json:"id" binding:"required,max=128"`
	Type      OpType `json:"type" binding:"required,oneof=CREATE_BOOKING CANCEL_BOOKING CHECK_IN RESCHEDULE MARK_NO_SHOW"`
	TripScope string `json:"trip_scope" binding:"required,max=64"`

	// BookingID targets an existing booking. DependsOn instead names the
	// ID of a queued create whose booking id is not known yet.
	BookingID string `json:"booking_id,omitempty" binding:"omitempty,uuid"`
	DependsOn string `json:"depends_on,omitempty" binding:"max=128"`

	Create     *bookings.CreateBookingRequest `json:"create,omitempty" binding:"required_if=Type CREATE_BOOKING"`
	Cancel     *CancelPayload                 `json:"cancel,omitempty"`
	CheckIn    *CheckInPayload                `json:"check_in,omitempty"`
	Reschedule *ReschedulePayload             `json:"reschedule,omitempty" binding:"required_if=Type RESCHEDULE"`

	Attempts      int       `json:"attempts"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// State is everything the journal persists
type State struct {
	Operations []Operation `json:"operations"`

	// Resolved maps applied create IDs to the booking they produced, so
	// dependents enqueued behind them can find their target.
	Resolved map[string]string `json:"resolved,omitempty"`
}

// EventKind classifies what the queue reports to the UI
type EventKind string

const (
	EventApplied             EventKind = "APPLIED"
	EventReselectionRequired EventKind = "RESELECTION_REQUIRED"
	EventRejected            EventKind = "REJECTED"
)

// Event is an outcome the operator needs to see
type Event struct {
	Kind      EventKind
	Operation Operation
	BookingID string
	// Seats lists the contended seats of a ReselectionRequired event
	Seats   []int
	Message string
	Err     error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Share the request DTO tags with gin binding.
	v.SetTagName("binding")
	return v
}

// validateOperation checks the payload before anything is journaled
func validateOperation(op *Operation) error {
	if err := validate.Struct(op); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	switch op.Type {
	case OpCreateBooking:
		if op.BookingID != "" || op.DependsOn != "" {
			return fmt.Errorf("%w: a create cannot target a booking", apperr.ErrValidation)
		}
		if !strings.EqualFold(strings.TrimSpace(op.Create.TripID), op.TripScope) {
			return fmt.Errorf("%w: create for trip %s queued under scope %s", apperr.ErrValidation, op.Create.TripID, op.TripScope)
		}
	case OpCheckIn:
		if op.BookingID == "" && op.DependsOn == "" && (op.CheckIn == nil || op.CheckIn.TicketRef == "") {
			return fmt.Errorf("%w: check-in needs a booking id or a ticket reference", apperr.ErrValidation)
		}
	default:
		if op.BookingID == "" && op.DependsOn == "" {
			return fmt.Errorf("%w: %s needs booking_id or depends_on", apperr.ErrValidation, op.Type)
		}
	}
	if op.BookingID != "" && op.DependsOn != "" {
		return fmt.Errorf("%w: booking_id and depends_on are exclusive", apperr.ErrValidation)
	}
	return nil
}
