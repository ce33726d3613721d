package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/models"
)

// completionMeta links a child execution's completion back to the parent
// loop (spec.md §4.4). Its JSON tags match a `_meta` block, but the broker
// does not stamp such a block onto the jobs or child executions it starts.
type completionMeta struct {
	ParentExecutionID int64  `json:"parent_execution_id"`
	ParentStep        string `json:"parent_step"`
	ReturnStep        string `json:"return_step,omitempty"`
}

// candidateSelector is one entry in the final-result search order (§4.4's
// fixed tie-break: execution_complete > return_step > named end steps > any
// meaningful completed > result events > end step).
type candidateSelector func(ctx context.Context, events eventlog.EventLog, childExecutionID int64, meta completionMeta) (*models.Event, bool, error)

// AggregationPolicy is the ordered list of candidate selectors the loop
// aggregation protocol tries, in order, to find a child execution's final
// result. The Broker always uses DefaultAggregationPolicy (installed by New);
// no playbook field selects or reorders it, and selectReturnStep only takes
// part when the completionMeta passed in carries a ReturnStep.
type AggregationPolicy struct {
	Selectors []candidateSelector
}

// DefaultAggregationPolicy implements spec.md §4.4's fixed tie-break order.
func DefaultAggregationPolicy() AggregationPolicy {
	return AggregationPolicy{Selectors: []candidateSelector{
		selectExecutionComplete,
		selectReturnStep,
		selectNamedEndStep,
		selectAnyMeaningfulCompleted,
		selectResultEvent,
		selectEndStep,
	}}
}

var commonEndStepNames = []string{"end", "done", "finish", "complete"}

func selectExecutionComplete(ctx context.Context, events eventlog.EventLog, childID int64, _ completionMeta) (*models.Event, bool, error) {
	candidates, err := events.CandidateResults(ctx, childID, models.EventExecutionCompleted, models.EventExecutionComplete)
	if err != nil {
		return nil, false, err
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	return candidates[len(candidates)-1], true, nil
}

func selectReturnStep(ctx context.Context, events eventlog.EventLog, childID int64, meta completionMeta) (*models.Event, bool, error) {
	if meta.ReturnStep == "" {
		return nil, false, nil
	}
	candidates, err := events.CandidateResults(ctx, childID, models.EventActionCompleted)
	if err != nil {
		return nil, false, err
	}
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i].NodeName == meta.ReturnStep {
			return candidates[i], true, nil
		}
	}
	return nil, false, nil
}

func selectNamedEndStep(ctx context.Context, events eventlog.EventLog, childID int64, _ completionMeta) (*models.Event, bool, error) {
	candidates, err := events.CandidateResults(ctx, childID, models.EventActionCompleted)
	if err != nil {
		return nil, false, err
	}
	for i := len(candidates) - 1; i >= 0; i-- {
		for _, name := range commonEndStepNames {
			if candidates[i].NodeName == name {
				return candidates[i], true, nil
			}
		}
	}
	return nil, false, nil
}

func selectAnyMeaningfulCompleted(ctx context.Context, events eventlog.EventLog, childID int64, _ completionMeta) (*models.Event, bool, error) {
	candidates, err := events.CandidateResults(ctx, childID, models.EventActionCompleted)
	if err != nil {
		return nil, false, err
	}
	for i := len(candidates) - 1; i >= 0; i-- {
		if isMeaningful(candidates[i]) {
			return candidates[i], true, nil
		}
	}
	return nil, false, nil
}

func selectResultEvent(ctx context.Context, events eventlog.EventLog, childID int64, _ completionMeta) (*models.Event, bool, error) {
	candidates, err := events.CandidateResults(ctx, childID, models.EventResult)
	if err != nil {
		return nil, false, err
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	return candidates[len(candidates)-1], true, nil
}

func selectEndStep(ctx context.Context, events eventlog.EventLog, childID int64, _ completionMeta) (*models.Event, bool, error) {
	candidates, err := events.CandidateResults(ctx, childID, models.EventActionCompleted, models.EventResult)
	if err != nil {
		return nil, false, err
	}
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i].NodeName == "end" {
			return candidates[i], true, nil
		}
	}
	return nil, false, nil
}

// isMeaningful excludes skipped or control-step records from aggregation
// (§4.4 edge cases).
func isMeaningful(e *models.Event) bool {
	if e.Status == models.StatusSkipped {
		return false
	}
	var flags struct {
		Skipped bool   `json:"skipped"`
		Reason  string `json:"reason"`
	}
	if len(e.Context) > 0 {
		_ = json.Unmarshal(e.Context, &flags)
	}
	return !flags.Skipped && flags.Reason != "control_step"
}

// finalResult runs the policy's selectors in order and returns the first hit.
func (b *Broker) finalResult(ctx context.Context, childExecutionID int64, meta completionMeta) (*models.Event, error) {
	for _, sel := range b.aggregator.Selectors {
		event, ok, err := sel(ctx, b.events, childExecutionID, meta)
		if err != nil {
			return nil, err
		}
		if ok {
			return event, nil
		}
	}
	return nil, nil
}

// HandleChildCompletion implements the Loop Aggregation Protocol's child
// side (spec.md §4.4) for a child execution started as one loop iteration
// of a parent iterator step. The parent linkage comes from the caller's
// meta argument; the worker's completion path does not call this method and
// does not read `_meta` fields from a job's context.
func (b *Broker) HandleChildCompletion(ctx context.Context, childExecutionID int64, meta completionMeta) error {
	result, err := b.finalResult(ctx, childExecutionID, meta)
	if err != nil {
		return fmt.Errorf("locate final result: %w", err)
	}

	iteration, err := b.events.LoopIterationByChild(ctx, meta.ParentExecutionID, childExecutionID)
	if err != nil {
		return fmt.Errorf("locate parent loop_iteration: %w", err)
	}
	if iteration == nil {
		return fmt.Errorf("no loop_iteration event references child execution %d", childExecutionID)
	}

	var resultPayload json.RawMessage
	var status models.EventStatus = models.StatusCompleted
	if result != nil {
		resultPayload = result.Result
		status = result.Status
	}

	iterationNodeID := fmt.Sprintf("%d-%s-iter-%d", meta.ParentExecutionID, meta.ParentStep, childExecutionID)
	iterationContext := mustMarshal(map[string]any{"child_execution_id": childExecutionID})
	if err := b.events.Append(ctx, &models.Event{
		ExecutionID:  ids.ID(meta.ParentExecutionID),
		EventID:      b.ids.Next(),
		EventType:    models.EventResult,
		NodeID:       iterationNodeID,
		NodeName:     meta.ParentStep,
		Status:       status,
		Result:       resultPayload,
		Context:      iterationContext,
		LoopID:       iteration.LoopID,
		LoopName:     iteration.LoopName,
		Iterator:     iteration.Iterator,
		CurrentIndex: iteration.CurrentIndex,
		CurrentItem:  iteration.CurrentItem,
	}); err != nil {
		return fmt.Errorf("emit per-iteration result: %w", err)
	}

	return b.maybeAggregate(ctx, meta.ParentExecutionID, meta.ParentStep)
}

// maybeAggregate counts total loop_iteration events against completed
// per-iteration results for (parent, step) and, once they match, emits the
// aggregate triad and closes out the iterator's own queue row (§4.4).
func (b *Broker) maybeAggregate(ctx context.Context, parentExecutionID int64, step string) error {
	total, err := b.events.CountLoopIterations(ctx, parentExecutionID, step)
	if err != nil {
		return fmt.Errorf("count loop iterations: %w", err)
	}

	completed, err := b.events.CountCompletedIterationsWithChild(ctx, parentExecutionID, step)
	if err != nil {
		return fmt.Errorf("count completed iterations: %w", err)
	}
	if completed < total {
		return nil
	}

	already, err := b.aggregateAlreadyEmitted(ctx, parentExecutionID, step)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	children, err := b.events.ListChildExecutions(ctx, parentExecutionID, step)
	if err != nil {
		return fmt.Errorf("list child executions: %w", err)
	}

	aggregated := make([]any, 0, len(children))
	anyFailed := false
	for _, child := range children {
		iterEvent, err := b.events.LoopIterationByChild(ctx, parentExecutionID, child.ChildExecutionID)
		if err != nil {
			return fmt.Errorf("recover iteration for child %d: %w", child.ChildExecutionID, err)
		}
		if iterEvent == nil {
			aggregated = append(aggregated, nil)
			continue
		}
		result, err := b.finalResult(ctx, child.ChildExecutionID, completionMeta{ParentExecutionID: parentExecutionID, ParentStep: step})
		if err != nil {
			return err
		}
		if result == nil {
			aggregated = append(aggregated, nil)
			continue
		}
		if result.Status == models.StatusFailed {
			anyFailed = true
		}
		var v any
		if len(result.Result) > 0 {
			_ = json.Unmarshal(result.Result, &v)
		}
		aggregated = append(aggregated, v)
	}

	// The aggregate triad is emitted once every iteration has a result,
	// however many children failed; if any child's final result is FAILED,
	// all three aggregate events carry status FAILED.
	status := models.StatusCompleted
	if anyFailed {
		status = models.StatusFailed
	}

	payload, err := json.Marshal(aggregated)
	if err != nil {
		return fmt.Errorf("marshal aggregated result: %w", err)
	}
	aggContext := mustMarshal(map[string]any{"loop_completed": true, "total_iterations": total})
	nodeID := nodeIDFor(parentExecutionID, step)

	for _, t := range []models.EventType{models.EventActionCompleted, models.EventResult, models.EventLoopCompleted} {
		if err := b.events.Append(ctx, &models.Event{
			ExecutionID: ids.ID(parentExecutionID),
			EventID:     b.ids.Next(),
			EventType:   t,
			NodeID:      nodeID,
			NodeName:    step,
			Status:      status,
			Result:      payload,
			Context:     aggContext,
		}); err != nil {
			return fmt.Errorf("emit aggregate %s: %w", t, err)
		}
	}

	if existing, err := b.queue.ByExecutionNode(ctx, parentExecutionID, nodeIDFor(parentExecutionID, step)); err == nil && existing != nil {
		_ = b.queue.MarkDone(ctx, int64(existing.QueueID))
	}

	return b.EvaluateForExecution(ctx, parentExecutionID)
}

// aggregateAlreadyEmitted guards against emitting the aggregate triad twice
// when two sibling completions race to close out the last iteration.
func (b *Broker) aggregateAlreadyEmitted(ctx context.Context, parentExecutionID int64, step string) (bool, error) {
	candidates, err := b.events.CandidateResults(ctx, parentExecutionID, models.EventLoopCompleted)
	if err != nil {
		return false, err
	}
	for _, e := range candidates {
		if e.NodeName == step {
			return true, nil
		}
	}
	return false, nil
}
