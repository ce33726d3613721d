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

	nctx "github.com/noetl/noetl/common/context"
	"github.com/noetl/noetl/common/eventlog"
)

func TestContextHandler_Render(t *testing.T) {
	events := eventlog.NewMemoryEventLog()
	workloads := nctx.NewMemoryWorkloadStore()
	require.NoError(t, workloads.Save(context.Background(), 7, "order-flow", "1", map[string]any{"url": "https://example.com"}))
	ctxSvc := nctx.NewService(events, workloads, nil)
	h := NewContextHandler(ctxSvc, testLogger())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/context/render", strings.NewReader(
		`{"execution_id":7,"template":"{{ work.url }}"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	require.NoError(t, h.Render(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://example.com")
	assert.Contains(t, rec.Body.String(), `"context_keys"`)
}

func TestContextHandler_Render_MissingExecutionID(t *testing.T) {
	events := eventlog.NewMemoryEventLog()
	workloads := nctx.NewMemoryWorkloadStore()
	ctxSvc := nctx.NewService(events, workloads, nil)
	h := NewContextHandler(ctxSvc, testLogger())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/context/render", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	err := h.Render(e.NewContext(req, rec))
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}
