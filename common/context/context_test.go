package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/models"
)

func newTestService(t *testing.T) (*Service, *eventlog.MemoryEventLog, *MemoryWorkloadStore) {
	t.Helper()
	events := eventlog.NewMemoryEventLog()
	workloads := NewMemoryWorkloadStore()
	return NewService(events, workloads, nil), events, workloads
}

func TestRender_PlainStringField(t *testing.T) {
	svc, _, workloads := newTestService(t)
	workloads.Set(1, map[string]any{"url": "https://example.com"})

	rendered, err := svc.Render(context.Background(), 1, "{{ work.url }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", rendered)
}

func TestRender_MissingVariableStrictErrors(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Render(context.Background(), 1, "{{ missing_var }}", nil)
	assert.Error(t, err)
	var undef *ErrUndefined
	assert.ErrorAs(t, err, &undef)
}

func TestRender_FlattensStatusDataEnvelope(t *testing.T) {
	svc, events, workloads := newTestService(t)
	workloads.Set(1, map[string]any{})

	events.Append(context.Background(), &models.Event{
		ExecutionID: 1,
		EventID:     1,
		EventType:   models.EventActionCompleted,
		NodeName:    "fetch",
		Result:      []byte(`{"status":"success","data":{"id":42}}`),
	})

	rendered, err := svc.Render(context.Background(), 1, "{{ fetch.id }}", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 42, rendered)
}

func TestRender_WorkBlockNonStrictFallsBack(t *testing.T) {
	svc, _, workloads := newTestService(t)
	workloads.Set(1, map[string]any{})

	rendered, err := svc.Render(context.Background(), 1, map[string]any{
		"work": map[string]any{"value": "{{ missing_var }}"},
		"task": map[string]any{"type": "http"},
	}, nil)
	require.NoError(t, err)

	out, ok := rendered.(map[string]any)
	require.True(t, ok)
	work, ok := out["work"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "{{ missing_var }}", work["value"])
}

func TestBuildRenderingContext_JobUUIDStablePerExecution(t *testing.T) {
	svc, _, _ := newTestService(t)
	execCtx := &executionContext{workload: map[string]any{}, results: map[string]any{}}

	first := svc.buildRenderingContext(execCtx, 42, nil)
	second := svc.buildRenderingContext(execCtx, 42, nil)

	firstUUID := first["job"].(map[string]any)["uuid"]
	secondUUID := second["job"].(map[string]any)["uuid"]
	assert.Equal(t, firstUUID, secondUUID)
	assert.NotEmpty(t, firstUUID)
}
