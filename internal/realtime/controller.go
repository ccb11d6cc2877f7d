package realtime

import (
	"io"
	"net/http"
	"strings"
	"time"

	"tripseat/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
)

type Controller interface {
	StreamTrip(c *gin.Context)
}

type controller struct {
	hub       *Hub
	keepAlive time.Duration
}

func NewController(hub *Hub, keepAlive time.Duration) Controller {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &controller{hub: hub, keepAlive: keepAlive}
}

// StreamTrip godoc
// @Summary Stream seat and booking changes of a trip
// @Description Server-sent events, one per committed delta. A "lagged" event means the client fell behind and must re-read the seat map.
// @Tags realtime
// @Produce text/event-stream
// @Param tripId path string true "Trip ID"
// @Success 200 {string} string "event stream"
// @Router /trips/{tripId}/stream [get]
func (ctrl *controller) StreamTrip(c *gin.Context) {
	tripID := strings.TrimSpace(c.Param("tripId"))
	if tripID == "" {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Trip ID is required", nil, nil)
		return
	}

	sub := ctrl.hub.Subscribe(Filter{TripID: tripID})
	defer sub.Close()

	ticker := time.NewTicker(ctrl.keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case d, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); err != nil {
					c.SSEvent("lagged", gin.H{"trip_id": tripID, "reason": err.Error()})
				}
				return false
			}
			c.SSEvent(strings.ToLower(string(d.Kind)), d)
			return true
		}
	})
}
