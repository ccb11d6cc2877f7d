package bookings

// CreateBookingRequest is the CreateBooking intent
type CreateBookingRequest struct {
	TripID         string    `json:"trip_id" binding:"required,max=64"`
	Seats          []int     `json:"seats" binding:"required,min=1,max=20,dive,min=1"`
	Passenger      Passenger `json:"passenger" binding:"required"`
	IdempotencyKey string    `json:"idempotency_key" binding:"required,max=128"`
	Channel        Channel   `json:"channel,omitempty" binding:"omitempty,oneof=DESK SELF_SERVICE"`
	AmountDue      float64   `json:"amount_due" binding:"gte=0"`
}

// CancelBookingRequest is the CancelBooking intent body
type CancelBookingRequest struct {
	Reason         string `json:"reason" binding:"max=500"`
	IdempotencyKey string `json:"idempotency_key,omitempty" binding:"max=128"`
}

// TransitionRequest carries the optional idempotency key of a status-only intent
type TransitionRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty" binding:"max=128"`
}

// CheckInByTicketRequest checks a passenger in from a scanned ticket
type CheckInByTicketRequest struct {
	TicketRef      string `json:"ticket_ref" binding:"required,max=32"`
	IdempotencyKey string `json:"idempotency_key,omitempty" binding:"max=128"`
}
