package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/handlers"
)

// RegisterRuntimeRoutes wires the Runtime Registry's HTTP surface: every
// component type registers/deregisters through the same handler bound to
// its own component type, plus the shared heartbeat and list routes.
func RegisterRuntimeRoutes(e *echo.Echo, h *handlers.RuntimeHandler) {
	workerPool := e.Group("/api/worker/pool")
	{
		workerPool.POST("/register", h.RegisterWorkerPool)     // POST /api/worker/pool/register
		workerPool.DELETE("/deregister", h.DeregisterWorkerPool) // DELETE /api/worker/pool/deregister
	}

	broker := e.Group("/api/broker")
	{
		broker.POST("/register", h.RegisterBroker)     // POST /api/broker/register
		broker.DELETE("/deregister", h.DeregisterBroker) // DELETE /api/broker/deregister
	}

	runtimeGroup := e.Group("/api/runtime")
	{
		runtimeGroup.POST("/register", h.RegisterServerAPI) // POST /api/runtime/register
		runtimeGroup.POST("/heartbeat", h.Heartbeat)         // POST /api/runtime/heartbeat
		runtimeGroup.GET("/list", h.List)                    // GET /api/runtime/list
	}
}
