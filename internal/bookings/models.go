package bookings

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Channel is where a booking was issued
type Channel string

const (
	// ChannelDesk confirms immediately at the counter
	ChannelDesk Channel = "DESK"
	// ChannelSelfService leaves the booking HELD until confirmed or expired
	ChannelSelfService Channel = "SELF_SERVICE"
)

// IsValid checks if the channel is known
func (c Channel) IsValid() bool {
	return c == ChannelDesk || c == ChannelSelfService
}

// Passenger is the identity snapshot taken at booking time
type Passenger struct {
	Name     string `gorm:"type:varchar(120);not null" json:"name" binding:"required,max=120"`
	Document string `gorm:"type:varchar(64)" json:"document,omitempty" binding:"omitempty,max=64"`
	Contact  string `gorm:"type:varchar(120)" json:"contact,omitempty" binding:"omitempty,max=120"`
}

// SeatNumbers is an ascending, duplicate-free seat set stored as a JSON array
type SeatNumbers []int

// NewSeatNumbers sorts and dedupes seats
func NewSeatNumbers(seats []int) SeatNumbers {
	seen := make(map[int]bool, len(seats))
	out := make(SeatNumbers, 0, len(seats))
	for _, n := range seats {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// Value implements driver.Valuer
func (s SeatNumbers) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (s *SeatNumbers) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*s = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into SeatNumbers", value)
	}
	var seats []int
	if err := json.Unmarshal(raw, &seats); err != nil {
		return err
	}
	*s = seats
	return nil
}

// Equal reports whether both sets hold the same seats
func (s SeatNumbers) Equal(other SeatNumbers) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains reports whether n is in the set
func (s SeatNumbers) Contains(n int) bool {
	i := sort.SearchInts(s, n)
	return i < len(s) && s[i] == n
}

// Minus returns the seats of s not in other
func (s SeatNumbers) Minus(other SeatNumbers) SeatNumbers {
	drop := make(map[int]bool, len(other))
	for _, n := range other {
		drop[n] = true
	}
	out := SeatNumbers{}
	for _, n := range s {
		if !drop[n] {
			out = append(out, n)
		}
	}
	return out
}

// Booking defines the main booking structure
type Booking struct {
	ID              uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	TripID          string      `gorm:"type:varchar(64);index;not null" json:"trip_id"`
	Passenger       Passenger   `gorm:"embedded;embeddedPrefix:passenger_" json:"passenger"`
	Seats           SeatNumbers `gorm:"type:jsonb;not null" json:"seats"`
	Status          Status      `gorm:"type:varchar(20);index;not null;check:status IN ('HELD', 'CONFIRMED', 'CHECKED_IN', 'CANCELLED', 'NO_SHOW', 'REFUNDED')" json:"status"`
	Channel         Channel     `gorm:"type:varchar(20);not null;default:'DESK'" json:"channel"`
	IdempotencyKey  string      `gorm:"type:varchar(128);uniqueIndex;not null" json:"idempotency_key"`
	TicketRef       string      `gorm:"type:varchar(32);uniqueIndex;not null" json:"ticket_ref"`
	AmountDue       float64     `gorm:"not null;default:0" json:"amount_due"`
	CancelReason    string      `gorm:"type:text" json:"cancel_reason,omitempty"`
	HeldUntil       *time.Time  `gorm:"index" json:"held_until,omitempty"`
	SeatsReleasedAt *time.Time  `json:"seats_released_at,omitempty"`
	Revision        int64       `gorm:"not null;default:1" json:"revision"`
	CreatedAt       time.Time   `json:"created_at"`
	StatusChangedAt time.Time   `gorm:"index" json:"status_changed_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName sets the table name for Booking
func (Booking) TableName() string {
	return "bookings"
}

// Owner is the identifier written into seat rows this booking claims
func (b *Booking) Owner() string {
	return b.ID.String()
}

// HoldsSeats reports whether the booking's seats should be attached to it
func (b *Booking) HoldsSeats() bool {
	return b.Status.OwnsSeats() && b.SeatsReleasedAt == nil
}

// HoldExpired reports whether a HELD booking is past its deadline
func (b *Booking) HoldExpired(now time.Time) bool {
	return b.Status == StatusHeld && b.HeldUntil != nil && !now.Before(*b.HeldUntil)
}

// transition moves the booking to next in memory. Callers persist it with
// a revision check.
func (b *Booking) transition(next Status, now time.Time) error {
	if !b.Status.CanTransitionTo(next) {
		return invalidTransition(b, next)
	}
	b.Status = next
	b.StatusChangedAt = now
	b.UpdatedAt = now
	if next != StatusHeld {
		b.HeldUntil = nil
	}
	return nil
}

// Operation names a receipt-tracked intent
type Operation string

const (
	OpCreate       Operation = "CREATE_BOOKING"
	OpConfirm      Operation = "CONFIRM_BOOKING"
	OpCancel       Operation = "CANCEL_BOOKING"
	OpCheckIn      Operation = "CHECK_IN"
	OpReschedule   Operation = "RESCHEDULE"
	OpMarkNoShow   Operation = "MARK_NO_SHOW"
	OpRefund       Operation = "REFUND"
	OpReleaseSeats Operation = "RELEASE_SEATS"
)

// OperationReceipt records a non-create intent that was applied, so a
// replay with the same key returns the earlier result instead of running
// the transition again.
type OperationReceipt struct {
	IdempotencyKey string    `gorm:"type:varchar(128);primaryKey" json:"idempotency_key"`
	Operation      Operation `gorm:"type:varchar(32);not null" json:"operation"`
	BookingID      uuid.UUID `gorm:"type:uuid;index;not null" json:"booking_id"`
	Outcome        Status    `gorm:"type:varchar(20);not null" json:"outcome"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName sets the table name for OperationReceipt
func (OperationReceipt) TableName() string {
	return "operation_receipts"
}

// ErrStale is returned by Repository.Update when the booking row changed
// since it was read
var ErrStale = errors.New("booking revision changed")

// ErrDuplicateKey is returned by Repository.Create when the idempotency key
// is already taken
var ErrDuplicateKey = errors.New("idempotency key already used")
