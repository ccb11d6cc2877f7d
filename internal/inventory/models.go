package inventory

import (
	"time"

	"tripseat/internal/realtime"
)

// SeatState is the inventory state of one seat on one trip
type SeatState string

const (
	StateAvailable SeatState = "AVAILABLE"
	StateHeld      SeatState = "HELD"
	StateBooked    SeatState = "BOOKED"
	StateBlocked   SeatState = "BLOCKED"
)

// IsValid checks if the seat state is known
func (s SeatState) IsValid() bool {
	switch s {
	case StateAvailable, StateHeld, StateBooked, StateBlocked:
		return true
	}
	return false
}

func (s SeatState) String() string {
	return string(s)
}

// Seat is the authoritative row for (trip_id, seat_number). Version is the
// optimistic-lock token and grows by one on every transition.
type Seat struct {
	TripID     string     `gorm:"type:varchar(64);primaryKey" json:"trip_id"`
	SeatNumber int        `gorm:"primaryKey;autoIncrement:false" json:"seat_number"`
	State      SeatState  `gorm:"type:varchar(20);not null;default:'AVAILABLE';check:state IN ('AVAILABLE', 'HELD', 'BOOKED', 'BLOCKED')" json:"state"`
	Version    int64      `gorm:"not null;default:1" json:"version"`
	Owner      string     `gorm:"type:varchar(64);index" json:"owner,omitempty"`
	HeldUntil  *time.Time `json:"held_until,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName sets the table name for Seat
func (Seat) TableName() string {
	return "seats"
}

func (s *Seat) IsAvailable() bool {
	return s.State == StateAvailable
}

// OwnedBy reports whether bookingID currently holds or owns the seat
func (s *Seat) OwnedBy(bookingID string) bool {
	return s.Owner != "" && s.Owner == bookingID
}

// HoldExpired reports whether a HELD seat is past its hold deadline
func (s *Seat) HoldExpired(now time.Time) bool {
	return s.State == StateHeld && s.HeldUntil != nil && !now.Before(*s.HeldUntil)
}

// Delta converts the seat into a realtime seat delta
func (s *Seat) Delta(now time.Time) realtime.Delta {
	return realtime.Delta{
		Kind:       realtime.KindSeat,
		TripID:     s.TripID,
		SeatNumber: s.SeatNumber,
		State:      string(s.State),
		Version:    s.Version,
		Owner:      s.Owner,
		EmittedAt:  now,
	}
}

// Transition is the target of a compare-and-swap. The store assigns the
// next version itself (expected + 1).
type Transition struct {
	State     SeatState
	Owner     string
	HeldUntil *time.Time
}

// ToAvailable returns the transition that frees a seat
func ToAvailable() Transition {
	return Transition{State: StateAvailable}
}

// apply builds the post-CAS row
func (t Transition) apply(s Seat, now time.Time) Seat {
	s.State = t.State
	s.Owner = t.Owner
	s.HeldUntil = nil
	if t.State == StateHeld && t.HeldUntil != nil {
		until := *t.HeldUntil
		s.HeldUntil = &until
	}
	if t.State == StateAvailable || t.State == StateBlocked {
		s.Owner = ""
	}
	s.Version++
	s.UpdatedAt = now
	return s
}

// SeatMap is the response shape of a trip's seat map
type SeatMap struct {
	TripID    string `json:"trip_id"`
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
	Seats     []Seat `json:"seats"`
}

// NewSeatMap summarizes seats into a SeatMap
func NewSeatMap(tripID string, seats []Seat) SeatMap {
	available := 0
	for _, s := range seats {
		if s.IsAvailable() {
			available++
		}
	}
	return SeatMap{TripID: tripID, Capacity: len(seats), Available: available, Seats: seats}
}
