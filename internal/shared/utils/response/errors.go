package response

import (
	"net/http"

	"tripseat/internal/shared/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the errors payload of an engine failure
type ErrorBody struct {
	Code  apperr.Code `json:"code"`
	Seats []int       `json:"seats,omitempty"`
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeSeatsUnavailable, apperr.CodeInvalidState, apperr.CodeAlreadyCheckedIn, apperr.CodeOwnershipMismatch:
		return http.StatusConflict
	case apperr.CodeValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RespondError writes err with its taxonomy code. Internal errors keep
// their detail out of the response.
func RespondError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := StatusFor(err)

	message := err.Error()
	if code == apperr.CodeInternal {
		message = "Internal server error"
		_ = c.Error(err)
	}

	body := ErrorBody{Code: code}
	if seats, ok := apperr.UnavailableSeats(err); ok {
		body.Seats = seats
	}
	RespondJSON(c, "error", status, message, nil, body)
}
