package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_TriggerEvaluatesExecution(t *testing.T) {
	b, events, q, workloads := newTestBroker(t, branchingPlaybook())
	workloads.Set(1, map[string]any{"url": "https://example.com"})
	startExecution(t, events, 1, "approval")

	d := NewDispatcher(b, testLogger(), 4)
	d.Trigger(1)

	assert.Eventually(t, func() bool {
		job, err := q.ByExecutionNode(context.Background(), 1, nodeIDFor(1, "start"))
		return err == nil && job != nil
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_ConcurrentTriggersCoalesceToOneExtraPass(t *testing.T) {
	b, events, q, workloads := newTestBroker(t, branchingPlaybook())
	workloads.Set(1, map[string]any{"url": "https://example.com"})
	startExecution(t, events, 1, "approval")

	d := NewDispatcher(b, testLogger(), 4)

	for i := 0; i < 10; i++ {
		d.Trigger(1)
	}

	assert.Eventually(t, func() bool {
		job, err := q.ByExecutionNode(context.Background(), 1, nodeIDFor(1, "start"))
		return err == nil && job != nil
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		_, tracked := d.state[1]
		return !tracked
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_BoundsConcurrencyAcrossExecutions(t *testing.T) {
	b, _, _, _ := newTestBroker(t, branchingPlaybook())
	d := NewDispatcher(b, testLogger(), 2)
	require.NotNil(t, d.sem)
	assert.Equal(t, 2, cap(d.sem))
}
