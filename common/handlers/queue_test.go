package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/common/queue"
)

func TestQueueHandler_EnqueueLeaseComplete(t *testing.T) {
	q := queue.NewMemoryQueue()
	h := NewQueueHandler(q, testLogger())
	e := echo.New()

	enqueueReq := httptest.NewRequest(http.MethodPost, "/api/queue/enqueue", strings.NewReader(
		`{"execution_id":1,"node_id":"start","action":{"type":"http"}}`))
	enqueueReq.Header.Set("Content-Type", "application/json")
	enqueueRec := httptest.NewRecorder()
	require.NoError(t, h.Enqueue(e.NewContext(enqueueReq, enqueueRec)))
	assert.Equal(t, http.StatusCreated, enqueueRec.Code)

	var enqueued struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(enqueueRec.Body.Bytes(), &enqueued))

	leaseReq := httptest.NewRequest(http.MethodPost, "/api/queue/lease", strings.NewReader(
		`{"worker_id":"worker-1"}`))
	leaseReq.Header.Set("Content-Type", "application/json")
	leaseRec := httptest.NewRecorder()
	require.NoError(t, h.Lease(e.NewContext(leaseReq, leaseRec)))
	assert.Equal(t, http.StatusOK, leaseRec.Code)
	assert.Contains(t, leaseRec.Body.String(), `"worker_id":"worker-1"`)

	completeReq := httptest.NewRequest(http.MethodPost, "/api/queue/1/complete", strings.NewReader(
		`{"worker_id":"worker-1"}`))
	completeReq.Header.Set("Content-Type", "application/json")
	completeRec := httptest.NewRecorder()
	c := e.NewContext(completeReq, completeRec)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.NoError(t, h.Complete(c))
	assert.Equal(t, http.StatusOK, completeRec.Code)
}

func TestQueueHandler_Lease_Empty(t *testing.T) {
	q := queue.NewMemoryQueue()
	h := NewQueueHandler(q, testLogger())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/queue/lease", strings.NewReader(`{"worker_id":"worker-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	require.NoError(t, h.Lease(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"empty"`)
}

func TestQueueHandler_Complete_WorkerMismatch(t *testing.T) {
	q := queue.NewMemoryQueue()
	h := NewQueueHandler(q, testLogger())
	e := echo.New()

	enqueueReq := httptest.NewRequest(http.MethodPost, "/api/queue/enqueue", strings.NewReader(
		`{"execution_id":2,"node_id":"start","action":{"type":"http"}}`))
	enqueueReq.Header.Set("Content-Type", "application/json")
	enqueueRec := httptest.NewRecorder()
	require.NoError(t, h.Enqueue(e.NewContext(enqueueReq, enqueueRec)))

	leaseReq := httptest.NewRequest(http.MethodPost, "/api/queue/lease", strings.NewReader(`{"worker_id":"worker-1"}`))
	leaseReq.Header.Set("Content-Type", "application/json")
	leaseRec := httptest.NewRecorder()
	require.NoError(t, h.Lease(e.NewContext(leaseReq, leaseRec)))

	completeReq := httptest.NewRequest(http.MethodPost, "/api/queue/1/complete", strings.NewReader(`{"worker_id":"worker-2"}`))
	completeReq.Header.Set("Content-Type", "application/json")
	completeRec := httptest.NewRecorder()
	c := e.NewContext(completeReq, completeRec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	err := h.Complete(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, httpErr.Code)
}

func TestQueueHandler_ReapExpired(t *testing.T) {
	q := queue.NewMemoryQueue()
	h := NewQueueHandler(q, testLogger())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/queue/reap-expired", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.ReapExpired(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reclaimed":0`)
}
