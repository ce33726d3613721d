package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/common/runtime"
)

func TestRuntimeHandler_RegisterAndList(t *testing.T) {
	registry := runtime.NewMemoryRegistry()
	h := NewRuntimeHandler(registry, testLogger())
	e := echo.New()

	registerReq := httptest.NewRequest(http.MethodPost, "/api/worker/pool/register", strings.NewReader(
		`{"name":"default","base_url":"http://worker:8081","capacity":4}`))
	registerReq.Header.Set("Content-Type", "application/json")
	registerRec := httptest.NewRecorder()
	require.NoError(t, h.RegisterWorkerPool(e.NewContext(registerReq, registerRec)))
	assert.Equal(t, http.StatusCreated, registerRec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/runtime/list", nil)
	listRec := httptest.NewRecorder()
	require.NoError(t, h.List(e.NewContext(listReq, listRec)))
	assert.Equal(t, http.StatusOK, listRec.Code)
	assert.Contains(t, listRec.Body.String(), `"default"`)
}

func TestRuntimeHandler_Heartbeat_NotRegistered(t *testing.T) {
	registry := runtime.NewMemoryRegistry()
	h := NewRuntimeHandler(registry, testLogger())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/runtime/heartbeat", strings.NewReader(
		`{"component_type":"worker_pool","name":"missing"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	err := h.Heartbeat(e.NewContext(req, rec))
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestRuntimeHandler_DeregisterBroker(t *testing.T) {
	registry := runtime.NewMemoryRegistry()
	h := NewRuntimeHandler(registry, testLogger())
	e := echo.New()

	registerReq := httptest.NewRequest(http.MethodPost, "/api/broker/register", strings.NewReader(
		`{"name":"broker-1"}`))
	registerReq.Header.Set("Content-Type", "application/json")
	registerRec := httptest.NewRecorder()
	require.NoError(t, h.RegisterBroker(e.NewContext(registerReq, registerRec)))

	deregisterReq := httptest.NewRequest(http.MethodDelete, "/api/broker/deregister?name=broker-1", nil)
	deregisterRec := httptest.NewRecorder()
	require.NoError(t, h.DeregisterBroker(e.NewContext(deregisterReq, deregisterRec)))
	assert.Equal(t, http.StatusNoContent, deregisterRec.Code)
}
