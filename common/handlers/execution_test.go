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

	"github.com/noetl/noetl/common/broker"
	"github.com/noetl/noetl/common/catalog"
	"github.com/noetl/noetl/common/condition"
	nctx "github.com/noetl/noetl/common/context"
	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/queue"
)

const testPlaybookYAML = `
name: order-flow
version: "1"
steps:
  - name: start
    type: task
    task:
      type: http
      url: "{{ work.url }}"
    next:
      - then: [ship]
  - name: ship
    type: end
`

func testLogger() *logger.Logger {
	return logger.New("error", "json")
}

func newExecutionHandler(t *testing.T) *ExecutionHandler {
	t.Helper()

	catalogClient := catalog.NewMemoryCatalog()
	_, err := catalogClient.Register(context.Background(), "order-flow", "1", testPlaybookYAML)
	require.NoError(t, err)

	events := eventlog.NewMemoryEventLog()
	q := queue.NewMemoryQueue()
	workloads := nctx.NewMemoryWorkloadStore()
	ctxSvc := nctx.NewService(events, workloads, catalogClient)
	evaluator := condition.NewEvaluator()
	idGen, err := ids.NewGenerator(0)
	require.NoError(t, err)

	b := broker.New(events, q, ctxSvc, evaluator, catalogClient, idGen, testLogger())

	return NewExecutionHandler(catalogClient, events, workloads, b, idGen, testLogger())
}

func TestExecutionHandler_Run(t *testing.T) {
	h := newExecutionHandler(t)

	e := echo.New()
	body := `{"path":"order-flow","parameters":{"url":"https://example.com"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/executions/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.Run(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"playbook_id":"order-flow"`)
}

func TestExecutionHandler_Run_MissingPath(t *testing.T) {
	h := newExecutionHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/executions/run", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Run(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestExecutionHandler_Run_UnknownPlaybook(t *testing.T) {
	h := newExecutionHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/executions/run", strings.NewReader(`{"path":"missing"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Run(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}
