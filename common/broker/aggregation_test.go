package broker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nctx "github.com/noetl/noetl/common/context"
	"github.com/noetl/noetl/common/condition"
	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/playbook"
	"github.com/noetl/noetl/common/queue"
)

func iteratorPlaybook() *playbook.Playbook {
	return &playbook.Playbook{
		Name:    "fan-out",
		Version: "1",
		Steps: []playbook.Step{
			{
				Name: "process_each",
				Type: playbook.StepIterator,
				Loop: &playbook.LoopConfig{
					Collection: "{{ work.items }}",
					Iterator:   "item",
					Playbook:   "child",
				},
			},
		},
	}
}

func newAggregationBroker(t *testing.T) (*Broker, *eventlog.MemoryEventLog, *queue.MemoryQueue) {
	t.Helper()
	events := eventlog.NewMemoryEventLog()
	q := queue.NewMemoryQueue()
	workloads := nctx.NewMemoryWorkloadStore()
	reader := &fakePlaybookReader{pb: iteratorPlaybook()}
	ctxSvc := nctx.NewService(events, workloads, reader)
	idGen, err := ids.NewGenerator(2)
	require.NoError(t, err)
	b := New(events, q, ctxSvc, condition.NewEvaluator(), reader, idGen, testLogger())
	workloads.Set(10, map[string]any{"items": []any{"a", "b"}})
	return b, events, q
}

func TestHandleChildCompletion_AggregatesAfterLastIteration(t *testing.T) {
	b, events, _ := newAggregationBroker(t)
	ctx := context.Background()

	startExecution(t, events, 10, "fan-out")
	require.NoError(t, b.EvaluateForExecution(ctx, 10))

	history, err := events.ListByExecution(ctx, 10)
	require.NoError(t, err)

	var childIDs []int64
	for _, e := range history {
		if e.EventType == models.EventLoopIteration {
			var c struct {
				ChildExecutionID int64 `json:"child_execution_id"`
			}
			require.NoError(t, json.Unmarshal(e.Context, &c))
			childIDs = append(childIDs, c.ChildExecutionID)
		}
	}
	require.Len(t, childIDs, 2, "two items should produce two loop_iteration events")

	for i, childID := range childIDs {
		require.NoError(t, events.Append(ctx, &models.Event{
			ExecutionID: ids.ID(childID),
			EventID:     ids.ID(100 + i),
			EventType:   models.EventExecutionCompleted,
			Status:      models.StatusCompleted,
			Result:      []byte(`{"ok":true}`),
		}))
		require.NoError(t, b.HandleChildCompletion(ctx, childID, completionMeta{
			ParentExecutionID: 10,
			ParentStep:        "process_each",
		}))
	}

	final, err := events.ListByExecution(ctx, 10)
	require.NoError(t, err)

	var sawLoopCompleted, sawAggregateResult int
	for _, e := range final {
		if e.EventType == models.EventLoopCompleted && e.NodeName == "process_each" {
			sawLoopCompleted++
			var flags struct {
				LoopCompleted   bool `json:"loop_completed"`
				TotalIterations int  `json:"total_iterations"`
			}
			require.NoError(t, json.Unmarshal(e.Context, &flags))
			assert.True(t, flags.LoopCompleted)
			assert.Equal(t, 2, flags.TotalIterations)
		}
		if e.EventType == models.EventActionCompleted && e.NodeName == "process_each" {
			sawAggregateResult++
			var aggregated []any
			require.NoError(t, json.Unmarshal(e.Result, &aggregated))
			assert.Len(t, aggregated, 2)
		}
	}
	assert.Equal(t, 1, sawLoopCompleted, "aggregate triad must be emitted exactly once")
	assert.Equal(t, 1, sawAggregateResult)
}
