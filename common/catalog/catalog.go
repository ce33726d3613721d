// Package catalog implements the Catalog component (spec.md §4.3 step 2,
// §6): the versioned, immutable registry of playbook definitions the Broker
// resolves on every evaluation pass and the Context Service resolves when
// rendering a nested playbook step. Grounded on the teacher's
// common/clients/cas.go small-interface-plus-backend-switch client shape,
// with the Postgres path filling in the `// TODO: Implement
// PostgresCASClient` that file leaves open.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/playbook"
)

// ErrNotFound is returned when no entry matches the requested path/version.
var ErrNotFound = errors.New("catalog: entry not found")

// ErrAlreadyRegistered is returned by Register when (path, version) already
// exists — catalog entries are immutable once written (spec.md §3).
var ErrAlreadyRegistered = errors.New("catalog: version already registered")

// Client is the Catalog surface the rest of the module depends on. It
// satisfies both common/broker.PlaybookReader.ReadPlaybook and
// common/context.PlaybookLoader.Load with the same method pair so one
// concrete type can be wired into both.
type Client interface {
	// ReadPlaybook resolves a registered playbook version's parsed steps.
	// version == "" resolves to the most recently registered version.
	ReadPlaybook(ctx context.Context, path, version string) (*playbook.Playbook, error)

	// Load is ReadPlaybook under the name common/context.PlaybookLoader expects.
	Load(ctx context.Context, path, version string) (*playbook.Playbook, error)

	// Register stores a new immutable playbook version and returns its entry.
	Register(ctx context.Context, path, version, content string) (*models.CatalogEntry, error)

	// List returns every registered version of path, most recently
	// registered first.
	List(ctx context.Context, path string) ([]*models.CatalogEntry, error)

	// Changelog returns the JSON merge patch (RFC 7396) describing what
	// changed between fromVersion and toVersion's parsed payloads.
	Changelog(ctx context.Context, path, fromVersion, toVersion string) (json.RawMessage, error)
}

// playbookCache caches parsed playbook.Playbook values keyed by
// "path@version" so a hot execution's repeated ReadPlaybook calls during one
// evaluation pass don't re-parse the same YAML document, the same trade-off
// common/condition.Evaluator makes for compiled CEL programs.
type playbookCache struct {
	mu    sync.RWMutex
	byKey map[string]*playbook.Playbook
}

func newPlaybookCache() *playbookCache {
	return &playbookCache{byKey: make(map[string]*playbook.Playbook)}
}

func (c *playbookCache) get(path, version string) (*playbook.Playbook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pb, ok := c.byKey[cacheKey(path, version)]
	return pb, ok
}

func (c *playbookCache) put(path, version string, pb *playbook.Playbook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[cacheKey(path, version)] = pb
}

func (c *playbookCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.byKey {
		if len(key) > len(path) && key[:len(path)+1] == path+"@" {
			delete(c.byKey, key)
		}
	}
}

func cacheKey(path, version string) string {
	return path + "@" + version
}
