package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/models"
)

// EventHandler serves the Event Log component's HTTP surface (spec.md §6):
// append and the two read-back routes the broker's REST clients and the UI
// use instead of querying Postgres directly.
type EventHandler struct {
	events eventlog.EventLog
	ids    *ids.Generator
	log    *logger.Logger
}

// NewEventHandler wires an EventHandler to its dependencies.
func NewEventHandler(events eventlog.EventLog, idGen *ids.Generator, log *logger.Logger) *EventHandler {
	return &EventHandler{events: events, ids: idGen, log: log}
}

type appendEventRequest struct {
	ExecutionID ids.ID              `json:"execution_id"`
	EventID     *ids.ID             `json:"event_id"`
	EventType   models.EventType    `json:"event_type"`
	NodeID      string              `json:"node_id"`
	NodeName    string              `json:"node_name"`
	NodeType    string              `json:"node_type"`
	Status      models.EventStatus  `json:"status"`
	DurationMS  *int64              `json:"duration_ms"`
	Context     json.RawMessage     `json:"context"`
	Result      json.RawMessage     `json:"result"`
	Error       string              `json:"error"`
	StackTrace  string              `json:"stack_trace"`
}

// Append handles POST /api/events.
func (h *EventHandler) Append(c echo.Context) error {
	var req appendEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.ExecutionID == 0 || req.EventType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution_id and event_type are required")
	}

	eventID := req.EventID
	if eventID == nil {
		next := h.ids.Next()
		eventID = &next
	}

	evt := &models.Event{
		ExecutionID: req.ExecutionID,
		EventID:     *eventID,
		EventType:   req.EventType,
		NodeID:      req.NodeID,
		NodeName:    req.NodeName,
		NodeType:    req.NodeType,
		Status:      req.Status,
		DurationMS:  req.DurationMS,
		Context:     req.Context,
		Result:      req.Result,
		Error:       req.Error,
		StackTrace:  req.StackTrace,
		Timestamp:   time.Now().UTC(),
	}

	if err := h.events.Append(c.Request().Context(), evt); err != nil {
		h.log.Error("event append failed", "execution_id", req.ExecutionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to append event")
	}

	return c.JSON(http.StatusCreated, evt)
}

// ListByExecution handles GET /api/events/by-execution/{execution_id}.
func (h *EventHandler) ListByExecution(c echo.Context) error {
	executionID, err := strconv.ParseInt(c.Param("execution_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid execution_id")
	}

	events, err := h.events.ListByExecution(c.Request().Context(), executionID)
	if err != nil {
		h.log.Error("event list failed", "execution_id", executionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list events")
	}

	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

// ByID handles GET /api/events/by-id/{event_id}.
func (h *EventHandler) ByID(c echo.Context) error {
	eventID, err := strconv.ParseInt(c.Param("event_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event_id")
	}

	evt, err := h.events.ByID(c.Request().Context(), eventID)
	if err != nil {
		h.log.Error("event lookup failed", "event_id", eventID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up event")
	}
	if evt == nil {
		return echo.NewHTTPError(http.StatusNotFound, "event not found")
	}

	return c.JSON(http.StatusOK, evt)
}
