package eventlog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/noetl/noetl/common/models"
)

// MemoryEventLog is an in-process EventLog used by broker/aggregation/context
// unit tests, the same separation of concerns the teacher draws between its
// pgx-backed repositories and its pure, independently-tested condition
// evaluator.
type MemoryEventLog struct {
	mu     sync.Mutex
	events []*models.Event
}

// NewMemoryEventLog creates an empty in-memory event log.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

var _ EventLog = (*MemoryEventLog)(nil)

func (l *MemoryEventLog) Append(ctx context.Context, e *models.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.events {
		if existing.ExecutionID == e.ExecutionID && existing.EventID == e.EventID {
			return nil
		}
	}
	cp := *e
	l.events = append(l.events, &cp)
	return nil
}

func (l *MemoryEventLog) forExecution(executionID int64) []*models.Event {
	var out []*models.Event
	for _, e := range l.events {
		if int64(e.ExecutionID) == executionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func (l *MemoryEventLog) EarliestContext(ctx context.Context, executionID int64) (json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.forExecution(executionID)
	if len(events) == 0 {
		return nil, nil
	}
	return events[0].Context, nil
}

func (l *MemoryEventLog) AllResults(ctx context.Context, executionID int64) ([]NodeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []NodeResult
	for _, e := range l.forExecution(executionID) {
		if (e.EventType == models.EventActionCompleted || e.EventType == models.EventResult) && e.NodeName != "" {
			out = append(out, NodeResult{NodeName: e.NodeName, NodeType: e.NodeType, Status: e.Status, Result: e.Result})
		}
	}
	return out, nil
}

func (l *MemoryEventLog) CountLoopIterations(ctx context.Context, executionID int64, step string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, e := range l.forExecution(executionID) {
		if e.EventType == models.EventLoopIteration && e.LoopName == step {
			count++
		}
	}
	return count, nil
}

func (l *MemoryEventLog) CountCompletedIterationsWithChild(ctx context.Context, executionID int64, step string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, e := range l.forExecution(executionID) {
		if e.LoopName != step {
			continue
		}
		if e.EventType != models.EventActionCompleted && e.EventType != models.EventResult {
			continue
		}
		if !gjson.GetBytes(e.Context, "child_execution_id").Exists() {
			continue
		}
		if gjson.GetBytes(e.Context, "skipped").Bool() {
			continue
		}
		count++
	}
	return count, nil
}

func (l *MemoryEventLog) HasExecutionStart(ctx context.Context, executionID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.forExecution(executionID) {
		if e.EventType == models.EventExecutionStart {
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryEventLog) HasExecutionCompleted(ctx context.Context, executionID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.forExecution(executionID) {
		if e.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryEventLog) LatestMeaningfulResult(ctx context.Context, executionID int64) (*models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.forExecution(executionID)
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.EventType != models.EventActionCompleted && e.EventType != models.EventResult {
			continue
		}
		if e.Status == models.StatusSkipped {
			continue
		}
		if gjson.GetBytes(e.Context, "reason").String() == "control_step" {
			continue
		}
		return e, nil
	}
	return nil, nil
}

func (l *MemoryEventLog) ListChildExecutions(ctx context.Context, parentExecutionID int64, step string) ([]ChildExecution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ChildExecution
	for _, e := range l.forExecution(parentExecutionID) {
		if e.EventType != models.EventLoopIteration || e.LoopName != step {
			continue
		}
		childID := gjson.GetBytes(e.Context, "child_execution_id")
		if !childID.Exists() {
			continue
		}
		index := 0
		if e.CurrentIndex != nil {
			index = *e.CurrentIndex
		}
		out = append(out, ChildExecution{
			ChildExecutionID: childID.Int(),
			ParentStep:       step,
			LoopID:           e.LoopID,
			LoopName:         e.LoopName,
			Iterator:         e.Iterator,
			CurrentIndex:     index,
			CurrentItem:      e.CurrentItem,
		})
	}
	return out, nil
}

func (l *MemoryEventLog) ListByExecution(ctx context.Context, executionID int64) ([]*models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.forExecution(executionID), nil
}

func (l *MemoryEventLog) ByID(ctx context.Context, eventID int64) (*models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.events {
		if int64(e.EventID) == eventID {
			return e, nil
		}
	}
	return nil, nil
}

func (l *MemoryEventLog) LoopIterationByChild(ctx context.Context, parentExecutionID int64, childExecutionID int64) (*models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.forExecution(parentExecutionID) {
		if e.EventType != models.EventLoopIteration {
			continue
		}
		if gjson.GetBytes(e.Context, "child_execution_id").Int() == childExecutionID {
			return e, nil
		}
	}
	return nil, nil
}

func (l *MemoryEventLog) CandidateResults(ctx context.Context, executionID int64, eventTypes ...models.EventType) ([]*models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	want := make(map[models.EventType]bool, len(eventTypes))
	for _, t := range eventTypes {
		want[t] = true
	}

	var out []*models.Event
	for _, e := range l.forExecution(executionID) {
		if want[e.EventType] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryEventLog) ListActiveExecutionIDs(ctx context.Context) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	completed := make(map[int64]bool)
	seen := make(map[int64]bool)
	var order []int64
	for _, e := range l.events {
		id := int64(e.ExecutionID)
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
		if e.IsTerminal() {
			completed[id] = true
		}
	}

	var active []int64
	for _, id := range order {
		if !completed[id] {
			active = append(active, id)
		}
	}
	return active, nil
}
