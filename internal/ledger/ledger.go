// Package ledger tells the payment side about confirmed bookings. The engine
// never waits on it: failures are logged by the caller and payment
// reconciliation happens outside the seat engine.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"tripseat/pkg/logger"

	"github.com/google/uuid"
)

// BookingConfirmedEvent is the message sent for every confirmation
type BookingConfirmedEvent struct {
	BookingID   string    `json:"booking_id"`
	AmountDue   float64   `json:"amount_due"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func (e BookingConfirmedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func newEvent(bookingID uuid.UUID, amountDue float64) BookingConfirmedEvent {
	return BookingConfirmedEvent{
		BookingID:   bookingID.String(),
		AmountDue:   amountDue,
		ConfirmedAt: time.Now().UTC(),
	}
}

// LogLedger records confirmations in the structured log. It is used when
// no broker is configured.
type LogLedger struct {
	log *logger.Logger
}

func NewLogLedger() *LogLedger {
	return &LogLedger{log: logger.GetDefault()}
}

func (l *LogLedger) BookingConfirmed(ctx context.Context, bookingID uuid.UUID, amountDue float64) error {
	ev := newEvent(bookingID, amountDue)
	l.log.InfoWithContext(ctx, "Ledger notified", map[string]interface{}{
		"booking_id": ev.BookingID,
		"amount_due": ev.AmountDue,
	})
	return nil
}
