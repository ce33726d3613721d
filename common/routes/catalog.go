package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/handlers"
)

// RegisterCatalogRoutes wires the Catalog component's HTTP surface.
func RegisterCatalogRoutes(e *echo.Echo, h *handlers.CatalogHandler) {
	catalog := e.Group("/api/catalog")
	{
		catalog.POST("/register", h.Register)    // POST /api/catalog/register
		catalog.GET("/list", h.List)              // GET /api/catalog/list?resource_type=
		catalog.GET("/changelog", h.Changelog)    // GET /api/catalog/changelog?path=&from=&to=
	}
}
