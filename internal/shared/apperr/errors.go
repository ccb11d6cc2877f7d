// Package apperr defines the error taxonomy shared by the seat inventory,
// the arbiter, the booking lifecycle and the offline client queue.
//
// Components return these values undecorated or wrapped with %w, so callers
// can always branch with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned for unknown trips, seats, bookings or tickets.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict signals that a compare-and-swap lost a race. It is
	// absorbed by the arbiter and never returned past it.
	ErrVersionConflict = errors.New("version conflict")

	// ErrSeatsUnavailable is a business outcome: pick other seats.
	ErrSeatsUnavailable = errors.New("seats unavailable")

	// ErrInvalidState is returned when a booking transition is not legal
	// from the booking's current status.
	ErrInvalidState = errors.New("invalid booking state")

	// ErrAlreadyCheckedIn is returned by check-in on a checked-in booking.
	ErrAlreadyCheckedIn = errors.New("booking already checked in")

	// ErrOwnershipMismatch is returned when a release references seats the
	// booking no longer owns.
	ErrOwnershipMismatch = errors.New("seat ownership mismatch")

	// ErrTransient marks client-side transport failures that are worth retrying.
	ErrTransient = errors.New("transient failure")

	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("validation failed")
)

// SeatsUnavailableError names the seats that could not be claimed.
type SeatsUnavailableError struct {
	TripID string
	Seats  []int
}

// NewSeatsUnavailable builds a SeatsUnavailableError with sorted, unique seats.
func NewSeatsUnavailable(tripID string, seats []int) *SeatsUnavailableError {
	seen := make(map[int]bool, len(seats))
	out := make([]int, 0, len(seats))
	for _, s := range seats {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Ints(out)
	return &SeatsUnavailableError{TripID: tripID, Seats: out}
}

func (e *SeatsUnavailableError) Error() string {
	parts := make([]string, len(e.Seats))
	for i, s := range e.Seats {
		parts[i] = strconv.Itoa(s)
	}
	return fmt.Sprintf("seats unavailable on trip %s: [%s]", e.TripID, strings.Join(parts, ","))
}

// Is lets errors.Is(err, ErrSeatsUnavailable) match.
func (e *SeatsUnavailableError) Is(target error) bool {
	return target == ErrSeatsUnavailable
}

// UnavailableSeats extracts the contended seats from err, if any.
func UnavailableSeats(err error) ([]int, bool) {
	var sue *SeatsUnavailableError
	if errors.As(err, &sue) {
		return sue.Seats, true
	}
	return nil, false
}

// Code is the stable wire identifier of an error kind.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeSeatsUnavailable  Code = "SEATS_UNAVAILABLE"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeAlreadyCheckedIn  Code = "ALREADY_CHECKED_IN"
	CodeOwnershipMismatch Code = "OWNERSHIP_MISMATCH"
	CodeValidation        Code = "VALIDATION_FAILED"
	CodeInternal          Code = "INTERNAL"
)

// CodeOf classifies err into its wire code.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrSeatsUnavailable):
		return CodeSeatsUnavailable
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyCheckedIn):
		return CodeAlreadyCheckedIn
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrOwnershipMismatch):
		return CodeOwnershipMismatch
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// FromCode rebuilds a sentinel from a wire code. Unknown codes map to nil.
func FromCode(code Code) error {
	switch code {
	case CodeNotFound:
		return ErrNotFound
	case CodeSeatsUnavailable:
		return ErrSeatsUnavailable
	case CodeInvalidState:
		return ErrInvalidState
	case CodeAlreadyCheckedIn:
		return ErrAlreadyCheckedIn
	case CodeOwnershipMismatch:
		return ErrOwnershipMismatch
	case CodeValidation:
		return ErrValidation
	}
	return nil
}

// IsBusiness reports whether err is a settled business outcome that a
// retry cannot change.
func IsBusiness(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeSeatsUnavailable, CodeInvalidState, CodeAlreadyCheckedIn,
		CodeOwnershipMismatch, CodeValidation:
		return true
	}
	return false
}
