package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/queue"
)

// QueueHandler serves the Queue component's HTTP surface (spec.md §6): the
// enqueue/lease/complete/fail/heartbeat/reap-expired protocol a Worker Pool
// speaks over REST instead of linking common/queue directly, the shape a
// non-Go worker implementation would use.
type QueueHandler struct {
	queue queue.Queue
	log   *logger.Logger
}

// NewQueueHandler wires a QueueHandler to its dependencies.
func NewQueueHandler(q queue.Queue, log *logger.Logger) *QueueHandler {
	return &QueueHandler{queue: q, log: log}
}

type enqueueRequest struct {
	ExecutionID int64           `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	Action      json.RawMessage `json:"action"`
	Context     json.RawMessage `json:"context"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
	AvailableAt *time.Time      `json:"available_at"`
}

// Enqueue handles POST /api/queue/enqueue.
func (h *QueueHandler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.ExecutionID == 0 || req.NodeID == "" || len(req.Action) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "execution_id, node_id and action are required")
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	availableAt := time.Now()
	if req.AvailableAt != nil {
		availableAt = *req.AvailableAt
	}

	id, err := h.queue.Enqueue(c.Request().Context(), queue.EnqueueRequest{
		ExecutionID: req.ExecutionID,
		NodeID:      req.NodeID,
		Action:      req.Action,
		Context:     req.Context,
		Priority:    req.Priority,
		MaxAttempts: maxAttempts,
		AvailableAt: availableAt,
	})
	if err != nil {
		h.log.Error("queue enqueue failed", "execution_id", req.ExecutionID, "node_id", req.NodeID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue job")
	}

	return c.JSON(http.StatusCreated, map[string]any{"id": id})
}

type leaseRequest struct {
	WorkerID     string `json:"worker_id"`
	LeaseSeconds int    `json:"lease_seconds"`
}

// Lease handles POST /api/queue/lease.
func (h *QueueHandler) Lease(c echo.Context) error {
	var req leaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.WorkerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "worker_id is required")
	}
	leaseSeconds := req.LeaseSeconds
	if leaseSeconds == 0 {
		leaseSeconds = 30
	}

	job, err := h.queue.Lease(c.Request().Context(), req.WorkerID, leaseSeconds)
	if err != nil {
		h.log.Error("queue lease failed", "worker_id", req.WorkerID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to lease job")
	}
	if job == nil {
		return c.JSON(http.StatusOK, map[string]any{"status": "empty"})
	}

	return c.JSON(http.StatusOK, job)
}

func (h *QueueHandler) parseQueueID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

type workerIDRequest struct {
	WorkerID string `json:"worker_id"`
}

// Complete handles POST /api/queue/{id}/complete.
func (h *QueueHandler) Complete(c echo.Context) error {
	queueID, err := h.parseQueueID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req workerIDRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	job, err := h.queue.Complete(c.Request().Context(), queueID, req.WorkerID)
	if err != nil {
		if err == queue.ErrWorkerMismatch || err == queue.ErrNotFound {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		h.log.Error("queue complete failed", "id", queueID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to complete job")
	}

	return c.JSON(http.StatusOK, job)
}

type failRequest struct {
	WorkerID        string `json:"worker_id"`
	Retry           bool   `json:"retry"`
	RetryDelaySecs  int    `json:"retry_delay_seconds"`
}

// Fail handles POST /api/queue/{id}/fail.
func (h *QueueHandler) Fail(c echo.Context) error {
	queueID, err := h.parseQueueID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req failRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	delay := time.Duration(req.RetryDelaySecs) * time.Second
	if err := h.queue.Fail(c.Request().Context(), queueID, req.WorkerID, req.Retry, delay); err != nil {
		if err == queue.ErrWorkerMismatch || err == queue.ErrNotFound {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		h.log.Error("queue fail failed", "id", queueID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fail job")
	}

	return c.NoContent(http.StatusNoContent)
}

type heartbeatRequest struct {
	WorkerID      string `json:"worker_id"`
	ExtendSeconds int    `json:"extend_seconds"`
}

// Heartbeat handles POST /api/queue/{id}/heartbeat.
func (h *QueueHandler) Heartbeat(c echo.Context) error {
	queueID, err := h.parseQueueID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req heartbeatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	extend := req.ExtendSeconds
	if extend == 0 {
		extend = 30
	}

	if err := h.queue.Heartbeat(c.Request().Context(), queueID, req.WorkerID, extend); err != nil {
		if err == queue.ErrWorkerMismatch || err == queue.ErrNotFound {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		h.log.Error("queue heartbeat failed", "id", queueID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to extend lease")
	}

	return c.NoContent(http.StatusNoContent)
}

// ReapExpired handles POST /api/queue/reap-expired.
func (h *QueueHandler) ReapExpired(c echo.Context) error {
	n, err := h.queue.ReapExpired(c.Request().Context())
	if err != nil {
		h.log.Error("queue reap-expired failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to reap expired leases")
	}

	return c.JSON(http.StatusOK, map[string]any{"reclaimed": n})
}
