package realtime

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// Kind distinguishes seat deltas from booking deltas
type Kind string

const (
	KindSeat    Kind = "SEAT"
	KindBooking Kind = "BOOKING"
)

// Delta is one committed state change. Version is the seat version for
// seat deltas and the booking revision for booking deltas, so receivers
// can drop duplicates and out-of-order copies.
type Delta struct {
	Kind    Kind   `json:"kind"`
	TripID  string `json:"trip_id"`
	Version int64  `json:"version"`

	// Seat deltas
	SeatNumber int    `json:"seat_number,omitempty"`
	State      string `json:"state,omitempty"`
	Owner      string `json:"owner,omitempty"`

	// Booking deltas
	BookingID       string     `json:"booking_id,omitempty"`
	Status          string     `json:"status,omitempty"`
	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`

	EmittedAt time.Time `json:"emitted_at"`
}

// Key identifies the entity a delta versions.
func (d Delta) Key() string {
	if d.Kind == KindBooking {
		return "booking:" + d.BookingID
	}
	return "seat:" + d.TripID + ":" + strconv.Itoa(d.SeatNumber)
}

// ToJSON serializes the delta for the wire
func (d Delta) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// FromJSON parses a wire delta
func FromJSON(data []byte) (Delta, error) {
	var d Delta
	err := json.Unmarshal(data, &d)
	return d, err
}

// Publisher receives committed deltas. Implementations must not block the
// writer for long; the store calls Publish after the write is durable.
type Publisher interface {
	Publish(ctx context.Context, delta Delta)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, delta Delta)

func (f PublisherFunc) Publish(ctx context.Context, delta Delta) { f(ctx, delta) }

// Multi fans a delta out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, delta Delta) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, delta)
		}
	}
}

// Discard drops every delta
var Discard Publisher = PublisherFunc(func(context.Context, Delta) {})
