package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTP dispatches an action shaped {type: http, method, url, headers?,
// payload?} as an outbound HTTP request, grounded on the teacher's
// cmd/workflow-runner/worker/http_worker.go executeHTTPRequest.
type HTTP struct {
	client *http.Client
}

// NewHTTP builds an HTTP plugin with a bounded request timeout.
func NewHTTP() *HTTP {
	return &HTTP{client: &http.Client{Timeout: 30 * time.Second}}
}

var _ Plugin = (*HTTP)(nil)

type httpAction struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Payload any               `json:"payload"`
}

func (h *HTTP) Execute(ctx context.Context, action json.RawMessage) (Result, error) {
	var a httpAction
	if err := json.Unmarshal(action, &a); err != nil {
		return Result{}, fmt.Errorf("http plugin: parse action: %w", err)
	}
	if a.URL == "" {
		return Result{}, fmt.Errorf("http plugin: action missing url")
	}
	method := a.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if a.Payload != nil {
		payloadJSON, err := json.Marshal(a.Payload)
		if err != nil {
			return Result{}, fmt.Errorf("http plugin: marshal payload: %w", err)
		}
		body = bytes.NewReader(payloadJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.URL, body)
	if err != nil {
		return Result{}, fmt.Errorf("http plugin: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "noetl-worker/1.0")
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("http plugin: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("http plugin: read response: %w", err)
	}

	var parsedBody any
	if json.Unmarshal(respBody, &parsedBody) != nil {
		parsedBody = string(respBody)
	}

	data := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
		"body":        parsedBody,
		"duration_ms": time.Since(start).Milliseconds(),
		"url":         a.URL,
		"method":      method,
	}

	status := "completed"
	if resp.StatusCode >= 400 {
		status = "failed"
	}
	return Result{Status: status, Data: data}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
