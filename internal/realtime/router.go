package realtime

import "github.com/gin-gonic/gin"

// SetupStreamRoutes mounts the delta stream. Seat maps are public, so the
// stream is too.
func SetupStreamRoutes(rg *gin.RouterGroup, controller Controller) {
	rg.GET("/trips/:tripId/stream", controller.StreamTrip) // GET /api/v1/trips/:tripId/stream
}
