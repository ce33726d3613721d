package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/handlers"
)

// RegisterContextRoutes wires the Context Service's render endpoint.
func RegisterContextRoutes(e *echo.Echo, h *handlers.ContextHandler) {
	context := e.Group("/api/context")
	{
		context.POST("/render", h.Render) // POST /api/context/render
	}
}
