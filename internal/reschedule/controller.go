package reschedule

import (
	"net/http"
	"strings"

	"tripseat/internal/bookings"
	"tripseat/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RescheduleRequest moves a booking to new seats, possibly on another trip
type RescheduleRequest struct {
	TripID         string `json:"trip_id" binding:"required,max=64"`
	Seats          []int  `json:"seats" binding:"required,min=1,max=20,dive,min=1"`
	IdempotencyKey string `json:"idempotency_key,omitempty" binding:"max=128"`
}

type Controller interface {
	Reschedule(c *gin.Context)
}

type controller struct {
	coordinator *Coordinator
}

func NewController(coordinator *Coordinator) Controller {
	return &controller{coordinator: coordinator}
}

// Reschedule godoc
// @Summary Reschedule a confirmed booking
// @Description Claims the new seats, releases the old ones and commits. On failure the booking keeps its original seats.
// @Tags bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param Idempotency-Key header string false "Client-generated idempotency key"
// @Param request body RescheduleRequest true "New trip and seats"
// @Success 200 {object} response.StandardApiResponse
// @Failure 409 {object} response.StandardApiResponse "Seats unavailable or booking not CONFIRMED"
// @Router /bookings/{id}/reschedule [post]
func (ctrl *controller) Reschedule(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid booking ID", nil, err.Error())
		return
	}

	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	key := strings.TrimSpace(c.GetHeader(bookings.IdempotencyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	booking, err := ctrl.coordinator.Reschedule(c.Request.Context(), bookingID, req.TripID, req.Seats, key)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Booking rescheduled successfully", booking.ToResponse(), nil)
}
