package bookings

import (
	"context"
	"net/http"
	"strings"

	"tripseat/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdempotencyHeader carries the client-generated key of an intent
const IdempotencyHeader = "Idempotency-Key"

type Controller interface {
	CreateBooking(c *gin.Context)
	GetBooking(c *gin.Context)
	GetTripManifest(c *gin.Context)
	ConfirmBooking(c *gin.Context)
	CancelBooking(c *gin.Context)
	CheckIn(c *gin.Context)
	CheckInByTicket(c *gin.Context)
	MarkNoShow(c *gin.Context)
	Refund(c *gin.Context)
	ReleaseSeats(c *gin.Context)
}

type controller struct {
	service Service
}

func NewController(service Service) Controller {
	return &controller{service: service}
}

// CreateBooking godoc
// @Summary Create a booking
// @Description Claims seats on a trip. Replaying an idempotency key returns the original booking.
// @Tags bookings
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client-generated idempotency key"
// @Param request body CreateBookingRequest true "Booking intent"
// @Success 201 {object} response.StandardApiResponse
// @Success 200 {object} response.StandardApiResponse "Duplicate request"
// @Failure 409 {object} response.StandardApiResponse "Seats unavailable"
// @Router /bookings [post]
func (ctrl *controller) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if key := strings.TrimSpace(c.GetHeader(IdempotencyHeader)); key != "" {
		req.IdempotencyKey = key
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if key := strings.TrimSpace(c.GetHeader(IdempotencyHeader)); key != "" {
		req.IdempotencyKey = key
	}

	result, err := ctrl.service.CreateBooking(c.Request.Context(), req)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	body := result.Booking.ToResponse()
	if result.Duplicate {
		body.Duplicate = true
		response.RespondJSON(c, "success", http.StatusOK, "Booking already exists for this idempotency key", body, nil)
		return
	}
	response.RespondJSON(c, "success", http.StatusCreated, "Booking created successfully", body, nil)
}

// GetBooking godoc
// @Summary Get a booking
// @Tags bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.StandardApiResponse
// @Failure 404 {object} response.StandardApiResponse
// @Router /bookings/{id} [get]
func (ctrl *controller) GetBooking(c *gin.Context) {
	bookingID, ok := parseBookingID(c)
	if !ok {
		return
	}

	booking, err := ctrl.service.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Booking retrieved successfully", booking.ToResponse(), nil)
}

// GetTripManifest godoc
// @Summary Trip manifest
// @Tags trips
// @Produce json
// @Param tripId path string true "Trip ID"
// @Success 200 {object} response.StandardApiResponse
// @Router /trips/{tripId}/manifest [get]
func (ctrl *controller) GetTripManifest(c *gin.Context) {
	tripID := c.Param("tripId")

	bookings, err := ctrl.service.GetTripManifest(c.Request.Context(), tripID)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	manifest := ManifestResponse{TripID: tripID, Count: len(bookings), Bookings: make([]BookingResponse, 0, len(bookings))}
	for i := range bookings {
		manifest.Bookings = append(manifest.Bookings, bookings[i].ToResponse())
	}
	response.RespondJSON(c, "success", http.StatusOK, "Manifest retrieved successfully", manifest, nil)
}

// ConfirmBooking godoc
// @Summary Confirm a held booking
// @Tags bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.StandardApiResponse
// @Failure 409 {object} response.StandardApiResponse
// @Router /bookings/{id}/confirm [post]
func (ctrl *controller) ConfirmBooking(c *gin.Context) {
	ctrl.transition(c, "Booking confirmed successfully", ctrl.service.Confirm)
}

// CancelBooking godoc
// @Summary Cancel a booking
// @Tags bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param request body CancelBookingRequest false "Cancellation reason"
// @Success 200 {object} response.StandardApiResponse
// @Failure 409 {object} response.StandardApiResponse
// @Router /bookings/{id}/cancel [post]
func (ctrl *controller) CancelBooking(c *gin.Context) {
	bookingID, ok := parseBookingID(c)
	if !ok {
		return
	}

	var req CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
			return
		}
	}

	booking, err := ctrl.service.Cancel(c.Request.Context(), bookingID, req.Reason, idempotencyKey(c, req.IdempotencyKey))
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Booking cancelled successfully", booking.ToResponse(), nil)
}

// CheckIn godoc
// @Summary Check a booking in
// @Tags boarding
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.StandardApiResponse
// @Failure 409 {object} response.StandardApiResponse
// @Router /bookings/{id}/check-in [post]
func (ctrl *controller) CheckIn(c *gin.Context) {
	ctrl.transition(c, "Passenger checked in successfully", ctrl.service.CheckIn)
}

// CheckInByTicket godoc
// @Summary Check in by ticket reference
// @Tags boarding
// @Accept json
// @Produce json
// @Param request body CheckInByTicketRequest true "Scanned ticket"
// @Success 200 {object} response.StandardApiResponse
// @Failure 404 {object} response.StandardApiResponse
// @Router /check-in [post]
func (ctrl *controller) CheckInByTicket(c *gin.Context) {
	var req CheckInByTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	booking, err := ctrl.service.CheckInByTicket(c.Request.Context(), req.TicketRef, idempotencyKey(c, req.IdempotencyKey))
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Passenger checked in successfully", booking.ToResponse(), nil)
}

// MarkNoShow godoc
// @Summary Mark a booking as no-show
// @Tags boarding
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.StandardApiResponse
// @Router /bookings/{id}/no-show [post]
func (ctrl *controller) MarkNoShow(c *gin.Context) {
	ctrl.transition(c, "Booking marked as no-show", ctrl.service.MarkNoShow)
}

// Refund godoc
// @Summary Refund a cancelled or no-show booking
// @Tags bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.StandardApiResponse
// @Router /bookings/{id}/refund [post]
func (ctrl *controller) Refund(c *gin.Context) {
	ctrl.transition(c, "Booking refunded successfully", ctrl.service.Refund)
}

// ReleaseSeats godoc
// @Summary Release a no-show booking's seats
// @Tags boarding
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.StandardApiResponse
// @Router /bookings/{id}/release-seats [post]
func (ctrl *controller) ReleaseSeats(c *gin.Context) {
	ctrl.transition(c, "Seats released successfully", ctrl.service.ReleaseNoShowSeats)
}

type transitionFunc func(ctx context.Context, bookingID uuid.UUID, key string) (*Booking, error)

func (ctrl *controller) transition(c *gin.Context, message string, apply transitionFunc) {
	bookingID, ok := parseBookingID(c)
	if !ok {
		return
	}

	var req TransitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
			return
		}
	}

	booking, err := apply(c.Request.Context(), bookingID, idempotencyKey(c, req.IdempotencyKey))
	if err != nil {
		response.RespondError(c, err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, message, booking.ToResponse(), nil)
}

func parseBookingID(c *gin.Context) (uuid.UUID, bool) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid booking ID", nil, err.Error())
		return uuid.Nil, false
	}
	return bookingID, true
}

// idempotencyKey prefers the header over the body field
func idempotencyKey(c *gin.Context, fromBody string) string {
	if key := strings.TrimSpace(c.GetHeader(IdempotencyHeader)); key != "" {
		return key
	}
	return strings.TrimSpace(fromBody)
}
