package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/broker"
	"github.com/noetl/noetl/common/catalog"
	nctx "github.com/noetl/noetl/common/context"
	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/models"
)

// ExecutionHandler starts executions (spec.md §6): resolves a catalog
// playbook, persists the initial workload, appends the execution_start
// event that seeds the Broker's first evaluation pass, and kicks that pass
// off synchronously so the first frontier of steps is enqueued before the
// request returns.
type ExecutionHandler struct {
	catalog   catalog.Client
	events    eventlog.EventLog
	workloads nctx.WorkloadStore
	broker    *broker.Broker
	ids       *ids.Generator
	log       *logger.Logger
}

// NewExecutionHandler wires an ExecutionHandler to its dependencies.
func NewExecutionHandler(catalogClient catalog.Client, events eventlog.EventLog, workloads nctx.WorkloadStore, b *broker.Broker, idGen *ids.Generator, log *logger.Logger) *ExecutionHandler {
	return &ExecutionHandler{catalog: catalogClient, events: events, workloads: workloads, broker: b, ids: idGen, log: log}
}

// nestedRunContext carries the parent linkage a playbook step stamps on a
// child run it starts directly through the API rather than through the
// Broker's own dispatchNestedPlaybook/dispatchIteration paths.
type nestedRunContext struct {
	ParentExecutionID string `json:"parent_execution_id"`
	ParentEventID     string `json:"parent_event_id"`
	ParentStep        string `json:"parent_step"`
}

type runRequest struct {
	PlaybookID string           `json:"playbook_id"`
	CatalogID  string           `json:"catalog_id"`
	Path       string           `json:"path"`
	Version    string           `json:"version"`
	Type       string           `json:"type"`
	Parameters map[string]any   `json:"parameters"`
	Merge      map[string]any   `json:"merge"`
	Context    nestedRunContext `json:"context"`
}

type runResponse struct {
	ID         ids.ID            `json:"id"`
	PlaybookID string            `json:"playbook_id"`
	Status     models.EventStatus `json:"status"`
	StartTime  time.Time         `json:"start_time"`
}

// Run handles POST /api/executions/run.
func (h *ExecutionHandler) Run(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	path := req.Path
	if path == "" {
		path = req.PlaybookID
	}
	if path == "" {
		path = req.CatalogID
	}
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "playbook_id, path or catalog_id is required")
	}

	ctx := c.Request().Context()
	pb, err := h.catalog.ReadPlaybook(ctx, path, req.Version)
	if err != nil {
		if err == catalog.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "playbook not found")
		}
		h.log.Error("execution run: catalog read failed", "path", path, "version", req.Version, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve playbook")
	}

	workload := mergeWorkload(req.Parameters, req.Merge)

	executionID := h.ids.Next()
	if err := h.workloads.Save(ctx, int64(executionID), pb.Name, pb.Version, workload); err != nil {
		h.log.Error("execution run: save workload failed", "execution_id", executionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to persist workload")
	}

	startContext := map[string]any{
		"path":    pb.Name,
		"version": pb.Version,
		"workload": workload,
	}
	if req.Context.ParentExecutionID != "" {
		startContext["meta"] = map[string]any{
			"parent_execution_id": req.Context.ParentExecutionID,
			"parent_event_id":     req.Context.ParentEventID,
			"parent_step":         req.Context.ParentStep,
		}
	}
	contextJSON, err := json.Marshal(startContext)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode execution context")
	}

	startTime := time.Now().UTC()
	event := &models.Event{
		ExecutionID: executionID,
		EventID:     h.ids.Next(),
		EventType:   models.EventExecutionStart,
		Status:      models.StatusInProgress,
		Context:     contextJSON,
		Timestamp:   startTime,
	}
	if req.Context.ParentExecutionID != "" {
		var parentExecID ids.ID
		if err := json.Unmarshal([]byte(`"`+req.Context.ParentExecutionID+`"`), &parentExecID); err == nil {
			event.ParentExecution = &parentExecID
		}
		if req.Context.ParentEventID != "" {
			var parentEventID ids.ID
			if err := json.Unmarshal([]byte(`"`+req.Context.ParentEventID+`"`), &parentEventID); err == nil {
				event.ParentEventID = &parentEventID
			}
		}
	}

	if err := h.events.Append(ctx, event); err != nil {
		h.log.Error("execution run: append execution_start failed", "execution_id", executionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start execution")
	}

	if err := h.broker.EvaluateForExecution(ctx, int64(executionID)); err != nil {
		h.log.Error("execution run: initial evaluation failed", "execution_id", executionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to evaluate execution")
	}

	return c.JSON(http.StatusCreated, runResponse{
		ID:         executionID,
		PlaybookID: pb.Name,
		Status:     models.StatusInProgress,
		StartTime:  startTime,
	})
}

// mergeWorkload combines the request's parameters with its merge overlay,
// the overlay winning on key collisions.
func mergeWorkload(parameters, merge map[string]any) map[string]any {
	out := make(map[string]any, len(parameters)+len(merge))
	for k, v := range parameters {
		out[k] = v
	}
	for k, v := range merge {
		out[k] = v
	}
	return out
}
