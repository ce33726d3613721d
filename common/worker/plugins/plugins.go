// Package plugins implements the per-action-type executors the Worker Pool
// dispatches queue jobs to (spec.md §4.6), each returning the
// {status, data?, error?, traceback?} result envelope the spec requires.
package plugins

import (
	"context"
	"encoding/json"
)

// Result is the envelope every plugin returns.
type Result struct {
	Status    string `json:"status"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

// Plugin executes one queue job's action body.
type Plugin interface {
	Execute(ctx context.Context, action json.RawMessage) (Result, error)
}
