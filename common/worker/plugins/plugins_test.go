package plugins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_Execute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	plugin := NewHTTP()
	action, err := json.Marshal(map[string]any{"url": server.URL, "method": "GET"})
	require.NoError(t, err)

	result, err := plugin.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 200, data["status_code"])
}

func TestHTTP_Execute_ServerErrorMarksFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	plugin := NewHTTP()
	action, err := json.Marshal(map[string]any{"url": server.URL})
	require.NoError(t, err)

	result, err := plugin.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
}

func TestHTTP_Execute_MissingURL(t *testing.T) {
	plugin := NewHTTP()
	_, err := plugin.Execute(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestPassthrough_Execute_EchoesAction(t *testing.T) {
	plugin := NewPassthrough()
	action, err := json.Marshal(map[string]any{"foo": "bar"})
	require.NoError(t, err)

	result, err := plugin.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, map[string]any{"foo": "bar"}, result.Data)
}
