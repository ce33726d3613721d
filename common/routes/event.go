package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/handlers"
)

// RegisterEventRoutes wires the Event Log's HTTP surface.
func RegisterEventRoutes(e *echo.Echo, h *handlers.EventHandler) {
	events := e.Group("/api/events")
	{
		events.POST("", h.Append)                               // POST /api/events
		events.GET("/by-execution/:execution_id", h.ListByExecution) // GET /api/events/by-execution/{execution_id}
		events.GET("/by-id/:event_id", h.ByID)                   // GET /api/events/by-id/{event_id}
	}
}
