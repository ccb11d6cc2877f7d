package bookings

type Status string

const (
	StatusHeld      Status = "HELD"
	StatusConfirmed Status = "CONFIRMED"
	StatusCheckedIn Status = "CHECKED_IN"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
	StatusRefunded  Status = "REFUNDED"
)

// transitions lists every legal status move. CONFIRMED -> CONFIRMED is the
// reschedule edge.
var transitions = map[Status][]Status{
	StatusHeld:      {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCancelled: {StatusRefunded},
	StatusNoShow:    {StatusRefunded},
}

// IsValid checks if the booking status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusHeld, StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow, StatusRefunded:
		return true
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// CanTransitionTo reports whether s -> next is a legal move
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanBeCancelled checks if a booking with this status can be cancelled
func (s Status) CanBeCancelled() bool {
	return s.CanTransitionTo(StatusCancelled)
}

// OwnsBookedSeats reports whether every seat of the booking must be BOOKED
// by it
func (s Status) OwnsBookedSeats() bool {
	return s == StatusConfirmed || s == StatusCheckedIn
}

// OwnsSeats reports whether the booking still holds seats in this status.
// NO_SHOW keeps its seats until they are released explicitly.
func (s Status) OwnsSeats() bool {
	switch s {
	case StatusHeld, StatusConfirmed, StatusCheckedIn, StatusNoShow:
		return true
	}
	return false
}
