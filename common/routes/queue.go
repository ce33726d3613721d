package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/handlers"
)

// RegisterQueueRoutes wires the Queue component's lease protocol.
func RegisterQueueRoutes(e *echo.Echo, h *handlers.QueueHandler) {
	queue := e.Group("/api/queue")
	{
		queue.POST("/enqueue", h.Enqueue)           // POST /api/queue/enqueue
		queue.POST("/lease", h.Lease)                // POST /api/queue/lease
		queue.POST("/:id/complete", h.Complete)      // POST /api/queue/{id}/complete
		queue.POST("/:id/fail", h.Fail)               // POST /api/queue/{id}/fail
		queue.POST("/:id/heartbeat", h.Heartbeat)     // POST /api/queue/{id}/heartbeat
		queue.POST("/reap-expired", h.ReapExpired)    // POST /api/queue/reap-expired
	}
}
