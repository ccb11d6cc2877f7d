package bookings

import "time"

// BookingResponse is the wire shape of a booking
type BookingResponse struct {
	ID              string      `json:"id"`
	TripID          string      `json:"trip_id"`
	TicketRef       string      `json:"ticket_ref"`
	Passenger       Passenger   `json:"passenger"`
	Seats           SeatNumbers `json:"seats"`
	Status          Status      `json:"status"`
	Channel         Channel     `json:"channel"`
	AmountDue       float64     `json:"amount_due"`
	CancelReason    string      `json:"cancel_reason,omitempty"`
	HeldUntil       *time.Time  `json:"held_until,omitempty"`
	SeatsReleased   bool        `json:"seats_released,omitempty"`
	Revision        int64       `json:"revision"`
	CreatedAt       time.Time   `json:"created_at"`
	StatusChangedAt time.Time   `json:"status_changed_at"`
	Duplicate       bool        `json:"duplicate,omitempty"`
}

// ToResponse converts a booking to its wire shape
func (b *Booking) ToResponse() BookingResponse {
	return BookingResponse{
		ID:              b.ID.String(),
		TripID:          b.TripID,
		TicketRef:       b.TicketRef,
		Passenger:       b.Passenger,
		Seats:           b.Seats,
		Status:          b.Status,
		Channel:         b.Channel,
		AmountDue:       b.AmountDue,
		CancelReason:    b.CancelReason,
		HeldUntil:       b.HeldUntil,
		SeatsReleased:   b.SeatsReleasedAt != nil,
		Revision:        b.Revision,
		CreatedAt:       b.CreatedAt,
		StatusChangedAt: b.StatusChangedAt,
	}
}

// ManifestResponse lists a trip's bookings for boarding
type ManifestResponse struct {
	TripID   string            `json:"trip_id"`
	Count    int               `json:"count"`
	Bookings []BookingResponse `json:"bookings"`
}
