package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/common/catalog"
)

func TestCatalogHandler_RegisterAndList(t *testing.T) {
	client := catalog.NewMemoryCatalog()
	h := NewCatalogHandler(client, testLogger())
	e := echo.New()

	registerReq := httptest.NewRequest(http.MethodPost, "/api/catalog/register", strings.NewReader(
		`{"content":"name: order-flow\nversion: \"1\"\nsteps:\n  - name: start\n    type: end\n"}`))
	registerReq.Header.Set("Content-Type", "application/json")
	registerRec := httptest.NewRecorder()
	require.NoError(t, h.Register(e.NewContext(registerReq, registerRec)))
	assert.Equal(t, http.StatusCreated, registerRec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/catalog/list?path=order-flow", nil)
	listRec := httptest.NewRecorder()
	require.NoError(t, h.List(e.NewContext(listReq, listRec)))
	assert.Equal(t, http.StatusOK, listRec.Code)
	assert.Contains(t, listRec.Body.String(), `"order-flow"`)
}

func TestCatalogHandler_Register_InvalidPlaybook(t *testing.T) {
	client := catalog.NewMemoryCatalog()
	h := NewCatalogHandler(client, testLogger())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/catalog/register", strings.NewReader(`{"content":"name: empty\n"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	err := h.Register(e.NewContext(req, rec))
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestCatalogHandler_Register_AlreadyRegistered(t *testing.T) {
	client := catalog.NewMemoryCatalog()
	h := NewCatalogHandler(client, testLogger())
	e := echo.New()

	body := `{"content":"name: order-flow\nversion: \"1\"\nsteps:\n  - name: start\n    type: end\n"}`

	firstReq := httptest.NewRequest(http.MethodPost, "/api/catalog/register", strings.NewReader(body))
	firstReq.Header.Set("Content-Type", "application/json")
	firstRec := httptest.NewRecorder()
	require.NoError(t, h.Register(e.NewContext(firstReq, firstRec)))

	secondReq := httptest.NewRequest(http.MethodPost, "/api/catalog/register", strings.NewReader(body))
	secondReq.Header.Set("Content-Type", "application/json")
	secondRec := httptest.NewRecorder()
	err := h.Register(e.NewContext(secondReq, secondRec))
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, httpErr.Code)
}
