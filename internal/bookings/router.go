package bookings

import (
	"tripseat/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

// SetupBookingRoutes configures all booking-related routes
func SetupBookingRoutes(rg *gin.RouterGroup, controller Controller, auth gin.HandlerFunc) {
	// Booking office and self-service counters
	bookings := rg.Group("/bookings")
	bookings.Use(auth, middleware.RequireRoles(middleware.RoleAgent, middleware.RoleAdmin))
	{
		bookings.POST("", controller.CreateBooking)              // POST /api/v1/bookings
		bookings.GET("/:id", controller.GetBooking)              // GET /api/v1/bookings/:id
		bookings.POST("/:id/confirm", controller.ConfirmBooking) // POST /api/v1/bookings/:id/confirm
		bookings.POST("/:id/cancel", controller.CancelBooking)   // POST /api/v1/bookings/:id/cancel
		bookings.POST("/:id/refund", controller.Refund)          // POST /api/v1/bookings/:id/refund
	}

	// Boarding operators
	boarding := rg.Group("")
	boarding.Use(auth, middleware.RequireRoles(middleware.RoleOperator, middleware.RoleAgent, middleware.RoleAdmin))
	{
		boarding.POST("/bookings/:id/check-in", controller.CheckIn)           // POST /api/v1/bookings/:id/check-in
		boarding.POST("/bookings/:id/no-show", controller.MarkNoShow)         // POST /api/v1/bookings/:id/no-show
		boarding.POST("/bookings/:id/release-seats", controller.ReleaseSeats) // POST /api/v1/bookings/:id/release-seats
		boarding.POST("/check-in", controller.CheckInByTicket)                // POST /api/v1/check-in
		boarding.GET("/trips/:tripId/manifest", controller.GetTripManifest)   // GET /api/v1/trips/:tripId/manifest
	}
}

// Route definitions for reference:
//
// BOOKING CREATION
// POST   /api/v1/bookings                       - Claim seats (Idempotency-Key header or body field)
// Request body: { "trip_id": "9021", "seats": [14], "passenger": {"name": "..."}, "idempotency_key": "..." }
//
// LIFECYCLE
// POST   /api/v1/bookings/:id/confirm           - HELD -> CONFIRMED
// POST   /api/v1/bookings/:id/cancel            - HELD|CONFIRMED -> CANCELLED, seats released
// POST   /api/v1/bookings/:id/refund            - CANCELLED|NO_SHOW -> REFUNDED
// POST   /api/v1/bookings/:id/reschedule        - see internal/reschedule
//
// BOARDING
// POST   /api/v1/bookings/:id/check-in          - CONFIRMED -> CHECKED_IN
// POST   /api/v1/check-in                       - Same, by ticket reference
// POST   /api/v1/bookings/:id/no-show           - CONFIRMED -> NO_SHOW (seats kept)
// POST   /api/v1/bookings/:id/release-seats     - Free a NO_SHOW booking's seats
// GET    /api/v1/trips/:tripId/manifest         - Bookings on a trip
