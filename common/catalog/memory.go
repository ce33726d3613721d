package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"gopkg.in/yaml.v3"

	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/playbook"
)

// MemoryCatalog is an in-process Client used by broker/context unit tests,
// mirroring common/queue.MemoryQueue and common/eventlog.MemoryEventLog.
type MemoryCatalog struct {
	mu      sync.Mutex
	entries map[string][]*models.CatalogEntry // keyed by path, newest last
	cache   *playbookCache
	clock   int64
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{entries: make(map[string][]*models.CatalogEntry), cache: newPlaybookCache()}
}

var _ Client = (*MemoryCatalog)(nil)

func (m *MemoryCatalog) ReadPlaybook(ctx context.Context, path, version string) (*playbook.Playbook, error) {
	if pb, ok := m.cache.get(path, version); ok {
		return pb, nil
	}

	m.mu.Lock()
	entries := m.entries[path]
	m.mu.Unlock()
	if len(entries) == 0 {
		return nil, ErrNotFound
	}

	entry := entries[len(entries)-1]
	if version != "" {
		found := false
		for _, e := range entries {
			if e.ResourceVersion == version {
				entry = e
				found = true
				break
			}
		}
		if !found {
			return nil, ErrNotFound
		}
	}

	pb, err := playbook.Parse([]byte(entry.Content))
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s@%s: %w", path, entry.ResourceVersion, err)
	}
	m.cache.put(path, version, pb)
	m.cache.put(path, entry.ResourceVersion, pb)
	return pb, nil
}

func (m *MemoryCatalog) Load(ctx context.Context, path, version string) (*playbook.Playbook, error) {
	return m.ReadPlaybook(ctx, path, version)
}

func (m *MemoryCatalog) Register(ctx context.Context, path, version, content string) (*models.CatalogEntry, error) {
	if path == "" || version == "" {
		return nil, fmt.Errorf("catalog: path and version are required")
	}
	if _, err := playbook.Parse([]byte(content)); err != nil {
		return nil, fmt.Errorf("catalog: parse playbook: %w", err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal([]byte(content), &generic); err != nil {
		return nil, fmt.Errorf("catalog: parse payload: %w", err)
	}
	payload, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries[path] {
		if e.ResourceVersion == version {
			return nil, ErrAlreadyRegistered
		}
	}
	m.clock++
	entry := &models.CatalogEntry{
		ResourcePath:    path,
		ResourceVersion: version,
		ResourceType:    "playbook",
		Content:         content,
		Payload:         payload,
	}
	m.entries[path] = append(m.entries[path], entry)
	m.cache.invalidate(path)
	return entry, nil
}

func (m *MemoryCatalog) List(ctx context.Context, path string) ([]*models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.entries[path]
	out := make([]*models.CatalogEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out, nil
}

func (m *MemoryCatalog) Changelog(ctx context.Context, path, fromVersion, toVersion string) (json.RawMessage, error) {
	from, err := m.entryFor(path, fromVersion)
	if err != nil {
		return nil, err
	}
	to, err := m.entryFor(path, toVersion)
	if err != nil {
		return nil, err
	}
	return jsonpatch.CreateMergePatch(from.Payload, to.Payload)
}

func (m *MemoryCatalog) entryFor(path, version string) (*models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries[path] {
		if e.ResourceVersion == version {
			return e, nil
		}
	}
	return nil, ErrNotFound
}
