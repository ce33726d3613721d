package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/runtime"
)

// RuntimeHandler serves the Runtime Registry's HTTP surface (spec.md §6):
// register/heartbeat/deregister for worker pools, brokers, and the server
// API itself, all backed by the same Registry keyed on (component_type,
// name).
type RuntimeHandler struct {
	registry runtime.Registry
	log      *logger.Logger
}

// NewRuntimeHandler wires a RuntimeHandler to its Registry.
func NewRuntimeHandler(registry runtime.Registry, log *logger.Logger) *RuntimeHandler {
	return &RuntimeHandler{registry: registry, log: log}
}

type registerComponentRequest struct {
	Name     string          `json:"name"`
	BaseURL  string          `json:"base_url"`
	Labels   json.RawMessage `json:"labels"`
	Capacity int             `json:"capacity"`
	Metadata json.RawMessage `json:"metadata"`
}

// register builds a handler bound to a fixed component type, so the route
// table can reuse the same logic for /api/worker/pool/register,
// /api/broker/register and /api/runtime/register without a type field the
// caller could get wrong.
func (h *RuntimeHandler) register(componentType models.RuntimeComponentType) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerComponentRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
		}
		if req.Name == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "name is required")
		}

		component, err := h.registry.Register(c.Request().Context(), runtime.RegisterRequest{
			ComponentType: componentType,
			Name:          req.Name,
			BaseURL:       req.BaseURL,
			Labels:        req.Labels,
			Capacity:      req.Capacity,
			Metadata:      req.Metadata,
		})
		if err != nil {
			h.log.Error("runtime register failed", "component_type", componentType, "name", req.Name, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to register component")
		}

		return c.JSON(http.StatusCreated, component)
	}
}

// deregister mirrors register for DELETE routes.
func (h *RuntimeHandler) deregister(componentType models.RuntimeComponentType) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.QueryParam("name")
		if name == "" {
			name = c.Param("name")
		}
		if name == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "name is required")
		}

		if err := h.registry.Deregister(c.Request().Context(), componentType, name); err != nil {
			if err == runtime.ErrNotFound {
				return echo.NewHTTPError(http.StatusNotFound, "component not registered")
			}
			h.log.Error("runtime deregister failed", "component_type", componentType, "name", name, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to deregister component")
		}

		return c.NoContent(http.StatusNoContent)
	}
}

// RegisterWorkerPool handles POST /api/worker/pool/register.
func (h *RuntimeHandler) RegisterWorkerPool(c echo.Context) error {
	return h.register(models.ComponentWorkerPool)(c)
}

// DeregisterWorkerPool handles DELETE /api/worker/pool/deregister.
func (h *RuntimeHandler) DeregisterWorkerPool(c echo.Context) error {
	return h.deregister(models.ComponentWorkerPool)(c)
}

// RegisterBroker handles POST /api/broker/register.
func (h *RuntimeHandler) RegisterBroker(c echo.Context) error {
	return h.register(models.ComponentBroker)(c)
}

// DeregisterBroker handles DELETE /api/broker/deregister.
func (h *RuntimeHandler) DeregisterBroker(c echo.Context) error {
	return h.deregister(models.ComponentBroker)(c)
}

// RegisterServerAPI handles POST /api/runtime/register.
func (h *RuntimeHandler) RegisterServerAPI(c echo.Context) error {
	return h.register(models.ComponentServerAPI)(c)
}

// Heartbeat handles POST /api/runtime/heartbeat — a supplemented endpoint;
// the teacher's distilled spec prose never names a heartbeat route, but
// §4.7's offline sweeper is meaningless without one and original_source
// has every component process ping it on an interval.
func (h *RuntimeHandler) Heartbeat(c echo.Context) error {
	var req struct {
		ComponentType models.RuntimeComponentType `json:"component_type"`
		Name          string                      `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.ComponentType == "" || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "component_type and name are required")
	}

	if err := h.registry.Heartbeat(c.Request().Context(), req.ComponentType, req.Name); err != nil {
		if err == runtime.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "component not registered")
		}
		h.log.Error("runtime heartbeat failed", "component_type", req.ComponentType, "name", req.Name, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record heartbeat")
	}

	return c.NoContent(http.StatusNoContent)
}

// List handles GET /api/runtime/list, a supplemented read endpoint
// mirroring /api/catalog/list for the Runtime Registry.
func (h *RuntimeHandler) List(c echo.Context) error {
	components, err := h.registry.List(c.Request().Context())
	if err != nil {
		h.log.Error("runtime list failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list components")
	}

	return c.JSON(http.StatusOK, map[string]any{"components": components})
}
