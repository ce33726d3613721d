package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/common/models"
)

func TestMemoryRegistry_RegisterThenHeartbeat(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	component, err := r.Register(ctx, RegisterRequest{
		ComponentType: models.ComponentWorkerPool,
		Name:          "worker-1",
		BaseURL:       "http://worker-1:9000",
		Capacity:      4,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeOnline, component.Status)

	require.NoError(t, r.Heartbeat(ctx, models.ComponentWorkerPool, "worker-1"))

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "worker-1", all[0].Name)
}

func TestMemoryRegistry_HeartbeatUnknownComponent(t *testing.T) {
	r := NewMemoryRegistry()
	err := r.Heartbeat(context.Background(), models.ComponentBroker, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRegistry_RegisterIsUpsert(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterRequest{ComponentType: models.ComponentServerAPI, Name: "server-1", Capacity: 1})
	require.NoError(t, err)
	_, err = r.Register(ctx, RegisterRequest{ComponentType: models.ComponentServerAPI, Name: "server-1", Capacity: 2})
	require.NoError(t, err)

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "registering the same component_type/name twice must upsert, not duplicate")
	assert.Equal(t, 2, all[0].Capacity)
}

func TestMemoryRegistry_Sweep(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, RegisterRequest{ComponentType: models.ComponentWorkerPool, Name: "stale"})
	require.NoError(t, err)

	r.components["worker_pool/stale"].LastHeartbeat = time.Now().Add(-time.Hour)

	n := r.Sweep(time.Minute)
	assert.Equal(t, 1, n)

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeOffline, all[0].Status)
}

func TestMemoryRegistry_Deregister(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, RegisterRequest{ComponentType: models.ComponentBroker, Name: "broker-1"})
	require.NoError(t, err)

	require.NoError(t, r.Deregister(ctx, models.ComponentBroker, "broker-1"))

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
