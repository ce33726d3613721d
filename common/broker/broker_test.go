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
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/playbook"
	"github.com/noetl/noetl/common/queue"
)

func testLogger() *logger.Logger {
	return logger.New("error", "json")
}

type fakePlaybookReader struct {
	pb *playbook.Playbook
}

func (f *fakePlaybookReader) ReadPlaybook(ctx context.Context, path, version string) (*playbook.Playbook, error) {
	return f.pb, nil
}

func (f *fakePlaybookReader) Load(ctx context.Context, path, version string) (*playbook.Playbook, error) {
	return f.pb, nil
}

func newTestBroker(t *testing.T, pb *playbook.Playbook) (*Broker, *eventlog.MemoryEventLog, *queue.MemoryQueue, *nctx.MemoryWorkloadStore) {
	t.Helper()
	events := eventlog.NewMemoryEventLog()
	q := queue.NewMemoryQueue()
	workloads := nctx.NewMemoryWorkloadStore()
	reader := &fakePlaybookReader{pb: pb}
	ctxSvc := nctx.NewService(events, workloads, reader)
	evaluator := condition.NewEvaluator()
	idGen, err := ids.NewGenerator(1)
	require.NoError(t, err)

	b := New(events, q, ctxSvc, evaluator, reader, idGen, testLogger())
	return b, events, q, workloads
}

func branchingPlaybook() *playbook.Playbook {
	return &playbook.Playbook{
		Name:    "approval",
		Version: "1",
		Steps: []playbook.Step{
			{
				Name: "start",
				Type: playbook.StepTask,
				Task: map[string]any{"type": "http", "method": "GET", "url": "{{ work.url }}"},
				Next: []playbook.Transition{
					{When: "result.approved == true", Then: []string{"ship"}, Else: []string{"reject"}},
				},
			},
			{Name: "ship", Type: playbook.StepEnd},
			{Name: "reject", Type: playbook.StepEnd},
		},
	}
}

func startExecution(t *testing.T, events *eventlog.MemoryEventLog, executionID int64, path string) {
	t.Helper()
	ctxJSON, err := json.Marshal(map[string]any{"path": path, "version": "1"})
	require.NoError(t, err)
	require.NoError(t, events.Append(context.Background(), &models.Event{
		ExecutionID: ids.ID(executionID),
		EventID:     ids.ID(1),
		EventType:   models.EventExecutionStart,
		Context:     ctxJSON,
	}))
}

func TestEvaluateForExecution_DispatchesRootStep(t *testing.T) {
	b, events, q, workloads := newTestBroker(t, branchingPlaybook())
	workloads.Set(1, map[string]any{"url": "https://example.com"})
	startExecution(t, events, 1, "approval")

	require.NoError(t, b.EvaluateForExecution(context.Background(), 1))

	job, err := q.ByExecutionNode(context.Background(), 1, nodeIDFor(1, "start"))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.QueueQueued, job.Status)
}

func TestEvaluateForExecution_FollowsMatchedBranchOnly(t *testing.T) {
	b, events, q, workloads := newTestBroker(t, branchingPlaybook())
	workloads.Set(2, map[string]any{"url": "https://example.com"})
	startExecution(t, events, 2, "approval")
	require.NoError(t, b.EvaluateForExecution(context.Background(), 2))

	startJob, err := q.ByExecutionNode(context.Background(), 2, nodeIDFor(2, "start"))
	require.NoError(t, err)
	require.NotNil(t, startJob)
	_, err = q.Lease(context.Background(), "worker-1", 30)
	require.NoError(t, err)
	_, err = q.Complete(context.Background(), int64(startJob.QueueID), "worker-1")
	require.NoError(t, err)
	require.NoError(t, events.Append(context.Background(), &models.Event{
		ExecutionID: ids.ID(2),
		EventID:     ids.ID(2),
		EventType:   models.EventActionCompleted,
		NodeName:    "start",
		Status:      models.StatusCompleted,
		Result:      []byte(`{"approved":true}`),
	}))

	require.NoError(t, b.EvaluateForExecution(context.Background(), 2))

	shipJob, err := q.ByExecutionNode(context.Background(), 2, nodeIDFor(2, "ship"))
	require.NoError(t, err)
	assert.Nil(t, shipJob, "ship is an end step, it resolves via a result event rather than a queue job")

	rejectJob, err := q.ByExecutionNode(context.Background(), 2, nodeIDFor(2, "reject"))
	require.NoError(t, err)
	assert.Nil(t, rejectJob, "reject was not the matched branch and must never be dispatched")

	history, err := events.ListByExecution(context.Background(), 2)
	require.NoError(t, err)
	var sawShipResult, sawRejectResult, sawCompleted bool
	for _, e := range history {
		if e.EventType == models.EventResult && e.NodeName == "ship" {
			sawShipResult = true
		}
		if e.NodeName == "reject" {
			sawRejectResult = true
		}
		if e.EventType == models.EventExecutionCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawShipResult, "matched end step should emit a result event")
	assert.False(t, sawRejectResult, "unmatched branch must emit no event at all")
	assert.True(t, sawCompleted, "execution should complete once its only reachable end step is done")
}

func TestEvaluateForExecution_AlreadyCompletedIsNoop(t *testing.T) {
	b, events, _, _ := newTestBroker(t, branchingPlaybook())
	startExecution(t, events, 3, "approval")
	require.NoError(t, events.Append(context.Background(), &models.Event{
		ExecutionID: ids.ID(3),
		EventID:     ids.ID(2),
		EventType:   models.EventExecutionCompleted,
		Status:      models.StatusCompleted,
	}))

	require.NoError(t, b.EvaluateForExecution(context.Background(), 3))

	history, err := events.ListByExecution(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, history, 2, "a completed execution must not be re-evaluated")
}
