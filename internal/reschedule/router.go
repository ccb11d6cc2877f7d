package reschedule

import (
	"tripseat/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRescheduleRoutes configures the reschedule route
func SetupRescheduleRoutes(rg *gin.RouterGroup, controller Controller, auth gin.HandlerFunc) {
	bookings := rg.Group("/bookings")
	bookings.Use(auth, middleware.RequireRoles(middleware.RoleAgent, middleware.RoleAdmin))
	{
		bookings.POST("/:id/reschedule", controller.Reschedule) // POST /api/v1/bookings/:id/reschedule
	}
}
