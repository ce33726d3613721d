package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/handlers"
)

// RegisterExecutionRoutes wires the execution-start surface.
func RegisterExecutionRoutes(e *echo.Echo, h *handlers.ExecutionHandler) {
	executions := e.Group("/api/executions")
	{
		executions.POST("/run", h.Run) // POST /api/executions/run
	}
}
