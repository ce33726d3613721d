// Package context implements the Context Service (spec.md §4.5): a pure
// function of (workload, prior results, playbook steps, extra_context) that
// renders `{{ }}` templates for the broker and worker. Grounded on
// original_source/noetl/server/api/context/service.py for the construction
// algorithm and on the teacher's cmd/workflow-runner/resolver/resolver.go for
// the Go mechanics of recursive value resolution.
package context

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/playbook"
)

// jobUUIDNamespace is a fixed namespace used to derive a stable job.uuid
// from an execution id (spec §4.5 step 4), so repeated renders of the same
// execution see the same value without a database round trip.
var jobUUIDNamespace = uuid.MustParse("6f7c9b3e-6e3b-4f0b-9c8b-9a6f6f2e9b1a")

// PlaybookLoader resolves a playbook version's parsed steps, used only to
// alias workbook task results under their step names (§4.5 step 3). A nil
// PlaybookLoader simply skips aliasing.
type PlaybookLoader interface {
	Load(ctx context.Context, path, version string) (*playbook.Playbook, error)
}

// Service renders templates against an execution's accumulated state.
type Service struct {
	events    eventlog.EventLog
	workloads WorkloadStore
	playbooks PlaybookLoader
}

// NewService wires the Context Service's dependencies.
func NewService(events eventlog.EventLog, workloads WorkloadStore, playbooks PlaybookLoader) *Service {
	return &Service{events: events, workloads: workloads, playbooks: playbooks}
}

// executionContext is the intermediate state fetch_execution_context builds
// before it is flattened into a rendering context.
type executionContext struct {
	workload map[string]any
	results  map[string]any
	steps    []playbook.Step
}

func (s *Service) fetchExecutionContext(ctx context.Context, executionID int64) (*executionContext, error) {
	workload, err := s.workloads.Load(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load workload: %w", err)
	}

	var path, version string
	if workload == nil {
		earliest, err := s.events.EarliestContext(ctx, executionID)
		if err != nil {
			return nil, fmt.Errorf("load earliest context: %w", err)
		}
		if earliest != nil {
			var fallback map[string]any
			if json.Unmarshal(earliest, &fallback) == nil {
				if w, ok := fallback["workload"].(map[string]any); ok {
					workload = w
				}
				path, _ = gjson.GetBytes(earliest, "path").Value().(string)
				version, _ = gjson.GetBytes(earliest, "version").Value().(string)
			}
		}
	}
	if workload == nil {
		workload = map[string]any{}
	}

	nodeResults, err := s.events.AllResults(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load node results: %w", err)
	}
	results := make(map[string]any, len(nodeResults))
	for _, r := range nodeResults {
		if r.NodeName == "" || len(r.Result) == 0 {
			continue
		}
		var v any
		if json.Unmarshal(r.Result, &v) != nil {
			v = string(r.Result)
		}
		results[r.NodeName] = v
	}

	var steps []playbook.Step
	if s.playbooks != nil && path != "" {
		pb, err := s.playbooks.Load(ctx, path, version)
		if err == nil && pb != nil {
			steps = pb.Steps
		}
	}

	return &executionContext{workload: workload, results: results, steps: steps}, nil
}

// buildRenderingContext assembles the flat map templates resolve against
// (§4.5 steps 2-4): results under results.<name>, flattened {status,data}
// envelopes, workbook aliasing, workload fields at top level, and a stable
// job.uuid.
func (s *Service) buildRenderingContext(execCtx *executionContext, executionID int64, extra map[string]any) map[string]any {
	base := map[string]any{
		"work":    execCtx.workload,
		"workload": execCtx.workload,
		"results": execCtx.results,
		"context": execCtx.workload,
	}

	for name, result := range execCtx.results {
		base[name] = flattenEnvelope(result)
	}

	for _, st := range execCtx.steps {
		if st.Type != playbook.StepWorkbook {
			continue
		}
		taskName := st.TaskName
		if taskName == "" {
			taskName = st.Name
		}
		if _, already := base[st.Name]; already {
			continue
		}
		if val, ok := execCtx.results[taskName]; ok {
			base[st.Name] = flattenEnvelope(val)
		}
	}

	for k, v := range execCtx.workload {
		base[k] = v
	}

	if extra != nil {
		for k, v := range extra {
			base[k] = v
		}
	}

	job, _ := base["job"].(map[string]any)
	if job == nil {
		job = map[string]any{}
		base["job"] = job
	}
	if _, ok := job["uuid"]; !ok {
		job["uuid"] = uuid.NewSHA1(jobUUIDNamespace, []byte(fmt.Sprintf("%d", executionID))).String()
	}

	return base
}

func flattenEnvelope(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if data, ok := m["data"]; ok {
		return data
	}
	return v
}

// mergeTemplateWork promotes a template's own `work` object to the top of
// the rendering context (§4.5 step 5), without overwriting prior results.
func mergeTemplateWork(template any, renderCtx map[string]any) map[string]any {
	tmplMap, ok := template.(map[string]any)
	if !ok {
		return renderCtx
	}
	work, ok := tmplMap["work"].(map[string]any)
	if !ok {
		return renderCtx
	}
	renderCtx["work"] = work
	renderCtx["context"] = work
	for k, v := range work {
		if _, exists := renderCtx[k]; !exists {
			renderCtx[k] = v
		}
	}
	return renderCtx
}

// Render is the Context Service's public contract:
// render(execution_id, template, extra_context?) -> rendered (§4.5).
//
// template may be a plain string, a nested map/slice of strings, or a
// {"work": ..., "task": ...} pair — work renders non-strict, task renders
// strict, matching the teacher's and original's split rendering modes.
func (s *Service) Render(ctx context.Context, executionID int64, template any, extra map[string]any) (any, error) {
	execCtx, err := s.fetchExecutionContext(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	renderCtx := s.buildRenderingContext(execCtx, executionID, extra)
	renderCtx = mergeTemplateWork(template, renderCtx)

	tmplMap, isMap := template.(map[string]any)
	if isMap && (tmplMap["work"] != nil || tmplMap["task"] != nil) {
		return s.renderWorkTask(tmplMap, renderCtx)
	}

	ctxJSON, err := marshalContext(renderCtx)
	if err != nil {
		return nil, err
	}
	return renderAny(template, ctxJSON, true)
}

// Context returns the flattened rendering context for an execution without
// rendering any template against it — used by the broker to evaluate `when`
// transitions (§4.3) against the same state templates resolve against.
func (s *Service) Context(ctx context.Context, executionID int64, extra map[string]any) (map[string]any, error) {
	execCtx, err := s.fetchExecutionContext(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return s.buildRenderingContext(execCtx, executionID, extra), nil
}

func (s *Service) renderWorkTask(tmpl map[string]any, renderCtx map[string]any) (map[string]any, error) {
	ctxJSON, err := marshalContext(renderCtx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(tmpl))
	if work, ok := tmpl["work"]; ok {
		rendered, err := renderAny(work, ctxJSON, false)
		if err != nil {
			// Non-strict: fall back to the unrendered value (§4.5 failure
			// semantics) rather than failing the whole render.
			rendered = work
		}
		out["work"] = rendered
	}
	if task, ok := tmpl["task"]; ok {
		rendered, err := renderAny(task, ctxJSON, true)
		if err != nil {
			return nil, fmt.Errorf("render task: %w", err)
		}
		if s, ok := rendered.(string); ok {
			var parsed any
			if json.Unmarshal([]byte(s), &parsed) == nil {
				rendered = parsed
			}
		}
		out["task"] = rendered
	}
	for k, v := range tmpl {
		if _, already := out[k]; !already {
			out[k] = v
		}
	}
	return out, nil
}
