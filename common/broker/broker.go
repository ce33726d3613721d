// Package broker implements evaluate_for_execution (spec.md §4.3): the
// per-execution evaluation pass that reads the event log, computes the
// frontier of runnable steps, and either enqueues queue jobs or starts child
// playbook executions. Grounded on the teacher's
// cmd/workflow-runner/coordinator/coordinator.go for the overall shape of a
// completion-driven dispatcher re-pointed at Postgres as the source of truth
// (spec §9: Redis trigger delivery is an optimization, never load-bearing).
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	nctx "github.com/noetl/noetl/common/context"
	"github.com/noetl/noetl/common/condition"
	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/playbook"
	"github.com/noetl/noetl/common/queue"
)

// PlaybookReader resolves a playbook version's parsed steps from the
// Catalog. A narrow interface so the Broker does not depend on the Catalog
// client package directly — satisfied by common/catalog's client once built.
type PlaybookReader interface {
	ReadPlaybook(ctx context.Context, path, version string) (*playbook.Playbook, error)
}

// Broker evaluates executions and advances them through their playbook.
type Broker struct {
	events     eventlog.EventLog
	queue      queue.Queue
	context    *nctx.Service
	evaluator  *condition.Evaluator
	playbooks  PlaybookReader
	ids        *ids.Generator
	log        *logger.Logger
	aggregator AggregationPolicy
}

// New wires the Broker's dependencies.
func New(events eventlog.EventLog, q queue.Queue, ctxSvc *nctx.Service, evaluator *condition.Evaluator, playbooks PlaybookReader, idGen *ids.Generator, log *logger.Logger) *Broker {
	return &Broker{
		events:     events,
		queue:      q,
		context:    ctxSvc,
		evaluator:  evaluator,
		playbooks:  playbooks,
		ids:        idGen,
		log:        log,
		aggregator: DefaultAggregationPolicy(),
	}
}

// EvaluateForExecution performs one evaluation pass for executionID. It is
// idempotent and safe to call concurrently: a losing caller simply observes
// that the next step is already in flight (§4.3).
func (b *Broker) EvaluateForExecution(ctx context.Context, executionID int64) error {
	completed, err := b.events.HasExecutionCompleted(ctx, executionID)
	if err != nil {
		return fmt.Errorf("check completion: %w", err)
	}
	if completed {
		return nil
	}

	pb, err := b.loadPlaybook(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load playbook: %w", err)
	}

	history, err := b.events.ListByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	frontier, err := b.frontier(ctx, executionID, pb, history)
	if err != nil {
		return fmt.Errorf("compute frontier: %w", err)
	}

	var firstFatal error
	for _, step := range frontier {
		if err := b.dispatchStep(ctx, executionID, pb, step); err != nil {
			b.log.Error("dispatch step failed", "execution_id", executionID, "step", step.Name, "error", err)
			if firstFatal == nil {
				firstFatal = err
			}
		}
	}

	// end steps resolve synchronously inside dispatchStep (no queue/worker
	// round trip), so re-read the history before deciding completion.
	history, err = b.events.ListByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("re-list events: %w", err)
	}

	return b.maybeComplete(ctx, executionID, pb, history, firstFatal)
}

// loadPlaybook resolves the playbook path/version from the earliest event's
// context or metadata and fetches the parsed steps from the Catalog (§4.3
// step 2).
func (b *Broker) loadPlaybook(ctx context.Context, executionID int64) (*playbook.Playbook, error) {
	earliest, err := b.events.EarliestContext(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("earliest context: %w", err)
	}
	if earliest == nil {
		return nil, fmt.Errorf("no events recorded for execution %d", executionID)
	}

	var ref struct {
		Path    string `json:"path"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(earliest, &ref); err != nil {
		return nil, fmt.Errorf("parse playbook reference: %w", err)
	}
	if ref.Path == "" {
		return nil, fmt.Errorf("execution %d has no playbook path in its earliest context", executionID)
	}

	return b.playbooks.ReadPlaybook(ctx, ref.Path, ref.Version)
}

// completedStepNames returns the set of step names with a terminal
// action_completed/result event, mapped to that event's result payload.
func completedStepNames(history []*models.Event) map[string]json.RawMessage {
	done := make(map[string]json.RawMessage)
	for _, e := range history {
		if e.EventType == models.EventActionCompleted || e.EventType == models.EventResult {
			if e.NodeName != "" {
				done[e.NodeName] = e.Result
			}
		}
	}
	return done
}

func hasEventType(history []*models.Event, t models.EventType) bool {
	for _, e := range history {
		if e.EventType == t {
			return true
		}
	}
	return false
}

// activatedSteps walks every completed step's `next` transitions, evaluating
// each `when` guard against that step's rendered result and the execution's
// context, and returns the set of step names actually reached — the roots
// (no predecessors) are always reachable (§4.3 step 3, Transition resolution).
func (b *Broker) activatedSteps(ctx context.Context, executionID int64, pb *playbook.Playbook, done map[string]json.RawMessage) (map[string]bool, error) {
	activated := make(map[string]bool)
	for _, step := range pb.Steps {
		if len(pb.Predecessors(step.Name)) == 0 {
			activated[step.Name] = true
		}
	}

	renderCtx, err := b.context.Context(ctx, executionID, nil)
	if err != nil {
		return nil, fmt.Errorf("build evaluation context: %w", err)
	}

	for _, step := range pb.Steps {
		result, isDone := done[step.Name]
		if !isDone || len(step.Next) == 0 {
			continue
		}

		var resultVal any
		if len(result) > 0 {
			_ = json.Unmarshal(result, &resultVal)
		}

		for _, t := range step.Next {
			matched, err := b.evaluator.Evaluate(t.When, resultVal, renderCtx)
			if err != nil {
				return nil, fmt.Errorf("evaluate transition from %s: %w", step.Name, err)
			}
			targets := t.Then
			if !matched {
				targets = t.Else
			}
			for _, name := range targets {
				activated[name] = true
			}
		}
	}
	return activated, nil
}

// frontier computes every reachable step that is not yet complete and has
// neither an in-flight queue row nor a terminal event of its own (§4.3
// step 3), visited in declaration order for determinism.
func (b *Broker) frontier(ctx context.Context, executionID int64, pb *playbook.Playbook, history []*models.Event) ([]playbook.Step, error) {
	if !hasEventType(history, models.EventExecutionStart) {
		return nil, nil
	}

	done := completedStepNames(history)
	activated, err := b.activatedSteps(ctx, executionID, pb, done)
	if err != nil {
		return nil, err
	}

	var out []playbook.Step
	for _, step := range pb.Steps {
		if _, isDone := done[step.Name]; isDone {
			continue
		}
		if !activated[step.Name] {
			continue
		}

		existing, err := b.queue.ByExecutionNode(ctx, executionID, nodeIDFor(executionID, step.Name))
		if err != nil {
			return nil, fmt.Errorf("check existing queue row for %s: %w", step.Name, err)
		}
		if existing != nil {
			continue
		}

		out = append(out, step)
	}
	return out, nil
}

// dispatchStep handles one frontier step per its type (§4.3 step 4).
func (b *Broker) dispatchStep(ctx context.Context, executionID int64, pb *playbook.Playbook, step playbook.Step) error {
	switch step.Type {
	case playbook.StepIterator:
		return b.dispatchIterator(ctx, executionID, pb, step)
	case playbook.StepPlaybook:
		return b.dispatchNestedPlaybook(ctx, executionID, step)
	case playbook.StepEnd:
		return b.emitResult(ctx, executionID, step.Name, nil, models.StatusCompleted)
	default:
		return b.dispatchTask(ctx, executionID, step)
	}
}

// dispatchTask renders the step body and enqueues a job (§4.3 step 4c).
func (b *Broker) dispatchTask(ctx context.Context, executionID int64, step playbook.Step) error {
	rendered, err := b.context.Render(ctx, executionID, map[string]any{"task": step.Task}, nil)
	if err != nil {
		return b.emitActionFailed(ctx, executionID, step.Name, err)
	}

	renderedMap, _ := rendered.(map[string]any)
	action, err := json.Marshal(renderedMap["task"])
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	maxAttempts := step.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	nodeID := nodeIDFor(executionID, step.Name)
	_, err = b.queue.Enqueue(ctx, queue.EnqueueRequest{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Action:      action,
		Context:     mustMarshal(map[string]any{"node_name": step.Name}),
		Priority:    step.Priority,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", step.Name, err)
	}
	return b.emitEvent(ctx, executionID, models.EventStepStarted, step.Name, nodeID, models.StatusInProgress, nil)
}

// dispatchIterator expands the loop collection and fans out one iteration
// per item (§4.3 step 4a).
func (b *Broker) dispatchIterator(ctx context.Context, executionID int64, pb *playbook.Playbook, step playbook.Step) error {
	if step.Loop == nil {
		return fmt.Errorf("iterator step %s has no loop config", step.Name)
	}

	rendered, err := b.context.Render(ctx, executionID, step.Loop.Collection, nil)
	if err != nil {
		return b.emitActionFailed(ctx, executionID, step.Name, err)
	}

	items, ok := rendered.([]any)
	if !ok {
		return fmt.Errorf("iterator %s collection did not resolve to a list", step.Name)
	}

	for i, item := range items {
		if err := b.dispatchIteration(ctx, executionID, step, i, item); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) dispatchIteration(ctx context.Context, executionID int64, step playbook.Step, index int, item any) error {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal iteration item: %w", err)
	}

	if step.Loop.Playbook != "" {
		childID := int64(b.ids.Next())
		childContext := mustMarshal(map[string]any{
			"path":    step.Loop.Playbook,
			"workload": item,
		})
		if err := b.events.Append(ctx, &models.Event{
			ExecutionID: ids.ID(childID),
			EventID:     b.ids.Next(),
			EventType:   models.EventExecutionStart,
			Context:     childContext,
		}); err != nil {
			return fmt.Errorf("start child execution: %w", err)
		}

		iterContext := mustMarshal(map[string]any{"child_execution_id": childID})
		idx := index
		if err := b.events.Append(ctx, &models.Event{
			ExecutionID:  ids.ID(executionID),
			EventID:      b.ids.Next(),
			EventType:    models.EventLoopIteration,
			LoopID:       step.Name,
			LoopName:     step.Name,
			Iterator:     step.Loop.Iterator,
			CurrentIndex: &idx,
			CurrentItem:  itemJSON,
			Context:      iterContext,
		}); err != nil {
			return fmt.Errorf("record loop iteration: %w", err)
		}

		return b.EvaluateForExecution(ctx, childID)
	}

	nodeID := fmt.Sprintf("%s-iter-%d", nodeIDFor(executionID, step.Name), index)
	extra := map[string]any{}
	if step.Loop.Iterator != "" {
		extra[step.Loop.Iterator] = item
	}
	rendered, err := b.context.Render(ctx, executionID, map[string]any{"task": step.Task}, extra)
	if err != nil {
		return b.emitActionFailed(ctx, executionID, step.Name, err)
	}
	renderedMap, _ := rendered.(map[string]any)
	action, err := json.Marshal(renderedMap["task"])
	if err != nil {
		return fmt.Errorf("marshal iteration action: %w", err)
	}
	idx := index
	if err := b.events.Append(ctx, &models.Event{
		ExecutionID:  ids.ID(executionID),
		EventID:      b.ids.Next(),
		EventType:    models.EventLoopIteration,
		LoopID:       step.Name,
		LoopName:     step.Name,
		Iterator:     step.Loop.Iterator,
		CurrentIndex: &idx,
		CurrentItem:  itemJSON,
	}); err != nil {
		return fmt.Errorf("record loop iteration: %w", err)
	}

	maxAttempts := step.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	// Inline iterations share step.Name but must not collide in
	// completedStepNames, or the first iteration to finish would mark the
	// whole iterator step done; the per-iteration node_name disambiguates.
	_, err = b.queue.Enqueue(ctx, queue.EnqueueRequest{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Action:      action,
		Context:     mustMarshal(map[string]any{"node_name": fmt.Sprintf("%s[%d]", step.Name, index), "item": item}),
		Priority:    step.Priority,
		MaxAttempts: maxAttempts,
	})
	return err
}

// dispatchNestedPlaybook starts a child execution for a `playbook`-typed step
// (§4.3 step 4b); no queue job is enqueued for the parent step itself.
func (b *Broker) dispatchNestedPlaybook(ctx context.Context, executionID int64, step playbook.Step) error {
	childID := int64(b.ids.Next())
	childContext := mustMarshal(map[string]any{
		"path": step.Playbook,
		"meta": map[string]any{
			"parent_execution_id": executionID,
			"parent_step":         step.Name,
		},
	})
	if err := b.events.Append(ctx, &models.Event{
		ExecutionID: ids.ID(childID),
		EventID:     b.ids.Next(),
		EventType:   models.EventExecutionStart,
		Context:     childContext,
	}); err != nil {
		return fmt.Errorf("start nested playbook: %w", err)
	}
	return b.EvaluateForExecution(ctx, childID)
}

func (b *Broker) emitActionFailed(ctx context.Context, executionID int64, stepName string, cause error) error {
	nodeID := nodeIDFor(executionID, stepName)
	return b.events.Append(ctx, &models.Event{
		ExecutionID: ids.ID(executionID),
		EventID:     b.ids.Next(),
		EventType:   models.EventActionFailed,
		NodeID:      nodeID,
		NodeName:    stepName,
		Status:      models.StatusFailed,
		Error:       cause.Error(),
	})
}

func (b *Broker) emitResult(ctx context.Context, executionID int64, stepName string, result json.RawMessage, status models.EventStatus) error {
	return b.events.Append(ctx, &models.Event{
		ExecutionID: ids.ID(executionID),
		EventID:     b.ids.Next(),
		EventType:   models.EventResult,
		NodeID:      nodeIDFor(executionID, stepName),
		NodeName:    stepName,
		Status:      status,
		Result:      result,
	})
}

func (b *Broker) emitEvent(ctx context.Context, executionID int64, t models.EventType, stepName, nodeID string, status models.EventStatus, result json.RawMessage) error {
	return b.events.Append(ctx, &models.Event{
		ExecutionID: ids.ID(executionID),
		EventID:     b.ids.Next(),
		EventType:   t,
		NodeID:      nodeID,
		NodeName:    stepName,
		Status:      status,
		Result:      result,
	})
}

// maybeComplete emits execution_completed once every reachable step (the
// ones actually activated by a taken `when` branch, not every step the
// playbook declares) has a terminal event (§4.3 steps 5-6).
func (b *Broker) maybeComplete(ctx context.Context, executionID int64, pb *playbook.Playbook, history []*models.Event, firstFatal error) error {
	if !hasEventType(history, models.EventExecutionStart) {
		return nil
	}

	done := completedStepNames(history)
	activated, err := b.activatedSteps(ctx, executionID, pb, done)
	if err != nil {
		return err
	}

	for name := range activated {
		if _, isDone := done[name]; isDone {
			continue
		}
		// Either still in flight or not yet picked up this pass — either
		// way the execution cannot be complete yet.
		return nil
	}

	status := models.StatusCompleted
	var errMsg string
	if firstFatal != nil {
		status = models.StatusFailed
		errMsg = firstFatal.Error()
	}

	last, err := b.events.LatestMeaningfulResult(ctx, executionID)
	if err != nil {
		return fmt.Errorf("latest meaningful result: %w", err)
	}
	var result json.RawMessage
	if last != nil {
		result = last.Result
	}

	return b.events.Append(ctx, &models.Event{
		ExecutionID: ids.ID(executionID),
		EventID:     b.ids.Next(),
		EventType:   models.EventExecutionCompleted,
		Status:      status,
		Result:      result,
		Error:       errMsg,
	})
}

func nodeIDFor(executionID int64, stepName string) string {
	return fmt.Sprintf("%d-%s", executionID, stepName)
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
