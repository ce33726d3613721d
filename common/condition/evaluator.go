// Package condition evaluates the `when` expressions of a playbook step's
// `next` transitions (spec.md §4.3), using CEL over the rendered step
// context and result.
package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates `when` expressions, caching compiled programs the
// same way the teacher's workflow-runner condition evaluator does.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// Evaluate compiles (or reuses a cached compile of) expr and runs it against
// result (the step's rendered output, bound as "result") and ctx (the
// execution's accumulated context, bound as "context"). expr must evaluate
// to a bool; any other outcome is reported as an error so a broken
// transition fails loud rather than silently skipping a branch.
func (e *Evaluator) Evaluate(expr string, result any, ctx map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"result":  result,
		"context": ctx,
	})
	if err != nil {
		return false, fmt.Errorf("condition evaluation error: %w", err)
	}

	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return a boolean, got %T", expr, out.Value())
	}
	return val, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := e.compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("result", cel.DynType),
		cel.Variable("context", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expr, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build CEL program for %q: %w", expr, err)
	}
	return prg, nil
}

// ClearCache drops every compiled program, used by tests that want a clean
// evaluator without constructing a new one.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize reports how many distinct expressions are currently compiled.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
