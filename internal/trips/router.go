package trips

import (
	"tripseat/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

// SetupTripRoutes configures trip catalog, seat map and seat admin routes
func SetupTripRoutes(rg *gin.RouterGroup, controller Controller, auth gin.HandlerFunc) {
	// Public seat maps
	trips := rg.Group("/trips")
	{
		trips.GET("", controller.ListTrips)                         // GET /api/v1/trips
		trips.GET("/:tripId", controller.GetTrip)                   // GET /api/v1/trips/:tripId
		trips.GET("/:tripId/seats", controller.GetSeatMap)          // GET /api/v1/trips/:tripId/seats
		trips.GET("/:tripId/seats/:seatNumber", controller.GetSeat) // GET /api/v1/trips/:tripId/seats/:seatNumber
	}

	// Provisioning
	rg.POST("/trips", auth, middleware.RequireRoles(middleware.RoleAdmin), controller.CreateTrip) // POST /api/v1/trips

	admin := rg.Group("/admin/trips")
	admin.Use(auth, middleware.RequireRoles(middleware.RoleAdmin))
	{
		admin.POST("/:tripId/status", controller.UpdateStatus)        // POST /api/v1/admin/trips/:tripId/status
		admin.POST("/:tripId/seats/block", controller.BlockSeats)     // POST /api/v1/admin/trips/:tripId/seats/block
		admin.POST("/:tripId/seats/unblock", controller.UnblockSeats) // POST /api/v1/admin/trips/:tripId/seats/unblock
		admin.POST("/:tripId/reconcile", controller.Reconcile)        // POST /api/v1/admin/trips/:tripId/reconcile
	}
}
