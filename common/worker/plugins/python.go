package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// Python dispatches an action shaped {type: python, interpreter?, code,
// context?} by shelling out to a script interpreter with the action's
// context on stdin and reading a JSON result from stdout — the idiomatic Go
// answer for running an arbitrary script body without an in-process
// runtime, the same subprocess boundary the teacher's CAS/mover backends
// cross for external tooling.
type Python struct {
	Interpreter string
}

// NewPython builds a Python plugin defaulting to python3 on PATH.
func NewPython() *Python {
	return &Python{Interpreter: "python3"}
}

var _ Plugin = (*Python)(nil)

type pythonAction struct {
	Interpreter string `json:"interpreter"`
	Code        string `json:"code"`
	Context     any    `json:"context"`
}

func (p *Python) Execute(ctx context.Context, action json.RawMessage) (Result, error) {
	var a pythonAction
	if err := json.Unmarshal(action, &a); err != nil {
		return Result{}, fmt.Errorf("python plugin: parse action: %w", err)
	}
	if a.Code == "" {
		return Result{}, fmt.Errorf("python plugin: action missing code")
	}
	interpreter := a.Interpreter
	if interpreter == "" {
		interpreter = p.Interpreter
	}

	stdinPayload, err := json.Marshal(a.Context)
	if err != nil {
		return Result{}, fmt.Errorf("python plugin: marshal context: %w", err)
	}

	cmd := exec.CommandContext(ctx, interpreter, "-c", a.Code)
	cmd.Stdin = bytes.NewReader(stdinPayload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{Status: "failed", Error: err.Error(), Traceback: stderr.String()}, nil
	}

	var parsed any
	if json.Unmarshal(stdout.Bytes(), &parsed) != nil {
		parsed = stdout.String()
	}
	return Result{Status: "completed", Data: parsed}, nil
}
