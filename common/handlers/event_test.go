package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/models"
)

func newEventHandler(t *testing.T) (*EventHandler, *eventlog.MemoryEventLog) {
	t.Helper()
	events := eventlog.NewMemoryEventLog()
	idGen, err := ids.NewGenerator(0)
	require.NoError(t, err)
	return NewEventHandler(events, idGen, testLogger()), events
}

func TestEventHandler_Append(t *testing.T) {
	h, _ := newEventHandler(t)

	e := echo.New()
	body := `{"execution_id":"1","event_type":"execution_start","status":"IN_PROGRESS"}`
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.Append(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestEventHandler_Append_MissingFields(t *testing.T) {
	h, _ := newEventHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Append(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestEventHandler_ListByExecution(t *testing.T) {
	h, events := newEventHandler(t)
	require.NoError(t, events.Append(context.Background(), &models.Event{
		ExecutionID: 42, EventID: 1, EventType: models.EventExecutionStart, Status: models.StatusInProgress,
	}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/events/by-execution/42", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("execution_id")
	c.SetParamValues("42")

	require.NoError(t, h.ListByExecution(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events"`)
}

func TestEventHandler_ByID_NotFound(t *testing.T) {
	h, _ := newEventHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/events/by-id/999", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("event_id")
	c.SetParamValues("999")

	err := h.ByID(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}
