package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/models"
)

// MemoryRegistry is an in-process Registry used by handler unit tests,
// mirroring common/queue.MemoryQueue's map-keyed-by-identity shape.
type MemoryRegistry struct {
	mu         sync.Mutex
	components map[string]*models.RuntimeComponent
	nextID     int64
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{components: make(map[string]*models.RuntimeComponent)}
}

var _ Registry = (*MemoryRegistry)(nil)

func (m *MemoryRegistry) Register(ctx context.Context, req RegisterRequest) (*models.RuntimeComponent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := componentKey(req.ComponentType, req.Name)
	now := time.Now()
	if existing, ok := m.components[key]; ok {
		existing.BaseURL = req.BaseURL
		existing.Status = models.RuntimeOnline
		existing.Labels = req.Labels
		existing.Capacity = req.Capacity
		existing.Metadata = req.Metadata
		existing.LastHeartbeat = now
		cp := *existing
		return &cp, nil
	}

	m.nextID++
	component := &models.RuntimeComponent{
		RuntimeID:     ids.ID(m.nextID),
		ComponentType: req.ComponentType,
		Name:          req.Name,
		BaseURL:       req.BaseURL,
		Status:        models.RuntimeOnline,
		Labels:        req.Labels,
		Capacity:      req.Capacity,
		Metadata:      req.Metadata,
		LastHeartbeat: now,
		CreatedAt:     now,
	}
	m.components[key] = component
	cp := *component
	return &cp, nil
}

func (m *MemoryRegistry) Heartbeat(ctx context.Context, componentType models.RuntimeComponentType, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	component, ok := m.components[componentKey(componentType, name)]
	if !ok {
		return ErrNotFound
	}
	component.LastHeartbeat = time.Now()
	component.Status = models.RuntimeOnline
	return nil
}

func (m *MemoryRegistry) List(ctx context.Context) ([]*models.RuntimeComponent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.RuntimeComponent, 0, len(m.components))
	for _, c := range m.components {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, componentType models.RuntimeComponentType, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, componentKey(componentType, name))
	return nil
}

// Sweep marks every component whose LastHeartbeat is older than offlineAfter
// as offline, the in-memory counterpart to Sweeper.sweepOnce.
func (m *MemoryRegistry) Sweep(offlineAfter time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-offlineAfter)
	n := 0
	for _, c := range m.components {
		if c.Status == models.RuntimeOnline && c.LastHeartbeat.Before(cutoff) {
			c.Status = models.RuntimeOffline
			n++
		}
	}
	return n
}

func componentKey(componentType models.RuntimeComponentType, name string) string {
	return string(componentType) + "/" + name
}
