package plugins

import (
	"context"
	"encoding/json"
)

// Passthrough echoes its action body back as the result. It backs the `end`
// and `noop` action types, and stands in for a real backend in tests.
type Passthrough struct{}

// NewPassthrough builds a no-op plugin.
func NewPassthrough() *Passthrough { return &Passthrough{} }

var _ Plugin = (*Passthrough)(nil)

func (p *Passthrough) Execute(ctx context.Context, action json.RawMessage) (Result, error) {
	var data any
	if len(action) > 0 {
		_ = json.Unmarshal(action, &data)
	}
	return Result{Status: "completed", Data: data}, nil
}
