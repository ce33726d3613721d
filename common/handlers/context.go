package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	nctx "github.com/noetl/noetl/common/context"
	"github.com/noetl/noetl/common/logger"
)

// ContextHandler exposes the Context Service's template rendering (spec.md
// §6) over HTTP, the route a playbook author's ad-hoc `{{ }}` expression
// testing tool would call without standing up a full execution.
type ContextHandler struct {
	context *nctx.Service
	log     *logger.Logger
}

// NewContextHandler wires a ContextHandler to the Context Service.
func NewContextHandler(contextService *nctx.Service, log *logger.Logger) *ContextHandler {
	return &ContextHandler{context: contextService, log: log}
}

type renderRequest struct {
	ExecutionID   int64          `json:"execution_id"`
	Template      any            `json:"template"`
	ExtraContext  map[string]any `json:"extra_context"`
}

// Render handles POST /api/context/render.
func (h *ContextHandler) Render(c echo.Context) error {
	var req renderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.ExecutionID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "execution_id is required")
	}

	ctx := c.Request().Context()
	rendered, err := h.context.Render(ctx, req.ExecutionID, req.Template, req.ExtraContext)
	if err != nil {
		h.log.Error("context render failed", "execution_id", req.ExecutionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render template")
	}

	renderingContext, err := h.context.Context(ctx, req.ExecutionID, req.ExtraContext)
	if err != nil {
		h.log.Error("context fetch failed", "execution_id", req.ExecutionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build context")
	}
	keys := make([]string, 0, len(renderingContext))
	for k := range renderingContext {
		keys = append(keys, k)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"rendered":     rendered,
		"context_keys": keys,
	})
}
