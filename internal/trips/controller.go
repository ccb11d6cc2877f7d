package trips

import (
	"context"
	"net/http"
	"strconv"

	"tripseat/internal/inventory"
	"tripseat/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
)

type Controller interface {
	CreateTrip(c *gin.Context)
	GetTrip(c *gin.Context)
	ListTrips(c *gin.Context)
	UpdateStatus(c *gin.Context)
	GetSeatMap(c *gin.Context)
	GetSeat(c *gin.Context)
	BlockSeats(c *gin.Context)
	UnblockSeats(c *gin.Context)
	Reconcile(c *gin.Context)
}

type controller struct {
	service Service
}

func NewController(service Service) Controller {
	return &controller{service: service}
}

// CreateTrip godoc
// @Summary Provision a trip
// @Description Registers a trip and creates seats 1..capacity as AVAILABLE. Repeating the call is harmless.
// @Tags trips
// @Accept json
// @Produce json
// @Param request body CreateTripRequest true "Trip"
// @Success 201 {object} response.StandardApiResponse
// @Success 200 {object} response.StandardApiResponse "Already provisioned"
// @Failure 400 {object} response.StandardApiResponse
// @Router /trips [post]
func (ctrl *controller) CreateTrip(c *gin.Context) {
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	trip, created, err := ctrl.service.CreateTrip(c.Request.Context(), req)
	if err != nil {
		response.RespondError(c, err)
		return
	}

	if !created {
		response.RespondJSON(c, "success", http.StatusOK, "Trip already provisioned", trip.ToResponse(), nil)
		return
	}
	response.RespondJSON(c, "success", http.StatusCreated, "Trip provisioned successfully", trip.ToResponse(), nil)
}

// GetTrip godoc
// @Summary Get a trip
// @Tags trips
// @Produce json
// @Param tripId path string true "Trip ID"
// @Success 200 {object} response.StandardApiResponse
// @Failure 404 {object} response.StandardApiResponse
// @Router /trips/{tripId} [get]
func (ctrl *controller) GetTrip(c *gin.Context) {
	trip, err := ctrl.service.GetTrip(c.Request.Context(), c.Param("tripId"))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, "Trip retrieved successfully", trip.ToResponse(), nil)
}

// ListTrips godoc
// @Summary List trips
// @Tags trips
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Param status query string false "SCHEDULED, DEPARTED or CANCELLED"
// @Success 200 {object} response.StandardApiResponse
// @Router /trips [get]
func (ctrl *controller) ListTrips(c *gin.Context) {
	var query TripListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}

	page, err := ctrl.service.ListTrips(c.Request.Context(), query)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, "Trips retrieved successfully", page, nil)
}

// UpdateStatus godoc
// @Summary Change a trip's status
// @Tags admin
// @Accept json
// @Produce json
// @Param tripId path string true "Trip ID"
// @Success 200 {object} response.StandardApiResponse
// @Router /admin/trips/{tripId}/status [post]
func (ctrl *controller) UpdateStatus(c *gin.Context) {
	var req struct {
		Status TripStatus `json:"status" binding:"required,oneof=SCHEDULED DEPARTED CANCELLED"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	trip, err := ctrl.service.UpdateStatus(c.Request.Context(), c.Param("tripId"), req.Status)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, "Trip status updated", trip.ToResponse(), nil)
}

// GetSeatMap godoc
// @Summary Seat map of a trip
// @Description Latest committed state of every seat
// @Tags seats
// @Produce json
// @Param tripId path string true "Trip ID"
// @Success 200 {object} response.StandardApiResponse{data=inventory.SeatMap}
// @Failure 404 {object} response.StandardApiResponse
// @Router /trips/{tripId}/seats [get]
func (ctrl *controller) GetSeatMap(c *gin.Context) {
	seatMap, err := ctrl.service.GetSeatMap(c.Request.Context(), c.Param("tripId"))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, "Seat map retrieved successfully", seatMap, nil)
}

// GetSeat godoc
// @Summary One seat of a trip
// @Tags seats
// @Produce json
// @Param tripId path string true "Trip ID"
// @Param seatNumber path int true "Seat number"
// @Success 200 {object} response.StandardApiResponse{data=inventory.Seat}
// @Failure 404 {object} response.StandardApiResponse
// @Router /trips/{tripId}/seats/{seatNumber} [get]
func (ctrl *controller) GetSeat(c *gin.Context) {
	seatNumber, err := strconv.Atoi(c.Param("seatNumber"))
	if err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid seat number", nil, nil)
		return
	}

	seat, err := ctrl.service.GetSeat(c.Request.Context(), c.Param("tripId"), seatNumber)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, "Seat retrieved successfully", seat, nil)
}

// BlockSeats godoc
// @Summary Take seats out of sale
// @Description All-or-nothing: fails with SEATS_UNAVAILABLE if any seat is not AVAILABLE
// @Tags admin
// @Accept json
// @Produce json
// @Param tripId path string true "Trip ID"
// @Param request body SeatsRequest true "Seats"
// @Success 200 {object} response.StandardApiResponse
// @Failure 409 {object} response.StandardApiResponse
// @Router /admin/trips/{tripId}/seats/block [post]
func (ctrl *controller) BlockSeats(c *gin.Context) {
	ctrl.seatAdmin(c, "Seats blocked successfully", ctrl.service.BlockSeats)
}

// UnblockSeats godoc
// @Summary Return blocked seats to sale
// @Tags admin
// @Accept json
// @Produce json
// @Param tripId path string true "Trip ID"
// @Param request body SeatsRequest true "Seats"
// @Success 200 {object} response.StandardApiResponse
// @Failure 409 {object} response.StandardApiResponse
// @Router /admin/trips/{tripId}/seats/unblock [post]
func (ctrl *controller) UnblockSeats(c *gin.Context) {
	ctrl.seatAdmin(c, "Seats unblocked successfully", ctrl.service.UnblockSeats)
}

func (ctrl *controller) seatAdmin(c *gin.Context, message string, op func(ctx context.Context, tripID string, seats []int) ([]inventory.Seat, error)) {
	var req SeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	seats, err := op(c.Request.Context(), c.Param("tripId"), req.Seats)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, message, seats, nil)
}

// Reconcile godoc
// @Summary Repair booking and seat disagreement on a trip
// @Tags admin
// @Produce json
// @Param tripId path string true "Trip ID"
// @Success 200 {object} response.StandardApiResponse
// @Router /admin/trips/{tripId}/reconcile [post]
func (ctrl *controller) Reconcile(c *gin.Context) {
	tripID := c.Param("tripId")
	repaired, err := ctrl.service.Reconcile(c.Request.Context(), tripID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondJSON(c, "success", http.StatusOK, "Trip reconciled", ReconcileResponse{TripID: tripID, Repaired: repaired}, nil)
}
