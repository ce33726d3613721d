package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/common/broker"
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

func singleStepPlaybook() *playbook.Playbook {
	return &playbook.Playbook{
		Name:    "single",
		Version: "1",
		Steps: []playbook.Step{
			{
				Name: "start",
				Type: playbook.StepTask,
				Task: map[string]any{"type": "noop"},
				Next: []playbook.Transition{{Then: []string{"end"}}},
			},
			{Name: "end", Type: playbook.StepEnd},
		},
	}
}

func newTestPool(t *testing.T, extra ...Option) (*Pool, *eventlog.MemoryEventLog, *queue.MemoryQueue) {
	t.Helper()
	events := eventlog.NewMemoryEventLog()
	q := queue.NewMemoryQueue()
	workloads := nctx.NewMemoryWorkloadStore()
	reader := &fakePlaybookReader{pb: singleStepPlaybook()}
	ctxSvc := nctx.NewService(events, workloads, reader)
	evaluator := condition.NewEvaluator()
	idGen, err := ids.NewGenerator(1)
	require.NoError(t, err)

	b := broker.New(events, q, ctxSvc, evaluator, reader, idGen, testLogger())

	opts := append([]Option{WithPollInterval(5 * time.Millisecond)}, extra...)
	p := New(q, events, b, idGen, testLogger(), opts...)
	return p, events, q
}

func TestPool_ExecutePassthroughJobEmitsCompletion(t *testing.T) {
	p, events, q := newTestPool(t)

	action, err := json.Marshal(map[string]any{"type": "noop"})
	require.NoError(t, err)
	ctxBody, err := json.Marshal(map[string]any{"node_name": "start"})
	require.NoError(t, err)

	queueID, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		ExecutionID: 1,
		NodeID:      "1-start",
		Action:      action,
		Context:     ctxBody,
		MaxAttempts: 3,
		AvailableAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NotZero(t, queueID)

	job, err := q.Lease(context.Background(), "test-worker", 30)
	require.NoError(t, err)
	require.NotNil(t, job)

	p.execute(context.Background(), job)

	all, err := events.ListByExecution(context.Background(), 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 2)

	var sawStarted, sawCompleted bool
	for _, e := range all {
		switch e.EventType {
		case models.EventActionStarted:
			sawStarted = true
			assert.Equal(t, "start", e.NodeName)
		case models.EventActionCompleted:
			sawCompleted = true
			assert.Equal(t, "start", e.NodeName)
			require.NotNil(t, e.DurationMS)
		}
	}
	assert.True(t, sawStarted)
	assert.True(t, sawCompleted)

	// Complete() clears the (execution, node) in-flight entry, so the job is
	// no longer visible to ByExecutionNode or re-leasable.
	inFlight, err := q.ByExecutionNode(context.Background(), 1, "1-start")
	require.NoError(t, err)
	assert.Nil(t, inFlight)

	nextJob, err := q.Lease(context.Background(), "test-worker", 30)
	require.NoError(t, err)
	assert.Nil(t, nextJob)
}

func TestPool_ExecuteFailingPluginOnLastAttemptEmitsFailure(t *testing.T) {
	p, events, q := newTestPool(t)

	action, err := json.Marshal(map[string]any{"type": "http"}) // missing url -> plugin error
	require.NoError(t, err)
	ctxBody, err := json.Marshal(map[string]any{"node_name": "start"})
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), queue.EnqueueRequest{
		ExecutionID: 2,
		NodeID:      "2-start",
		Action:      action,
		Context:     ctxBody,
		MaxAttempts: 1,
		AvailableAt: time.Now(),
	})
	require.NoError(t, err)

	job, err := q.Lease(context.Background(), "test-worker", 30)
	require.NoError(t, err)
	require.NotNil(t, job)

	p.execute(context.Background(), job)

	all, err := events.ListByExecution(context.Background(), 2)
	require.NoError(t, err)

	var sawFailed bool
	for _, e := range all {
		if e.EventType == models.EventActionFailed {
			sawFailed = true
			assert.NotEmpty(t, e.Error)
		}
	}
	assert.True(t, sawFailed)
}

func TestPool_NodeNameForFallsBackToNodeID(t *testing.T) {
	p := &Pool{}
	job := &models.QueueJob{NodeID: "1-start", Context: json.RawMessage(`{}`)}
	assert.Equal(t, "1-start", p.nodeNameFor(job))
}

func TestRetryDelay_BoundedExponential(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(0))
	assert.Equal(t, time.Minute, retryDelay(1000))
}
