// Package runtime implements the Runtime Registry (spec.md §4.7): the
// liveness table backing POST /api/runtime/register and
// /api/worker/pool/register, plus a ticker-driven sweeper that marks a
// component offline once its heartbeat goes stale. Grounded on
// common/queue.PostgresQueue's query-and-scan shape for the store, and
// common/cache.MemoryCache's cleanup() ticker-goroutine idiom for the
// sweeper.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noetl/noetl/common/dbx"
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/models"
)

// ErrNotFound is returned when the referenced component is not registered.
var ErrNotFound = errors.New("runtime: component not found")

// RegisterRequest is the upsert-by-(component_type, name) input (§4.7).
type RegisterRequest struct {
	ComponentType models.RuntimeComponentType
	Name          string
	BaseURL       string
	Labels        json.RawMessage
	Capacity      int
	Metadata      json.RawMessage
}

// Registry is the Runtime Registry's public contract.
type Registry interface {
	// Register upserts a component's liveness row and marks it online.
	Register(ctx context.Context, req RegisterRequest) (*models.RuntimeComponent, error)

	// Heartbeat refreshes last_heartbeat and marks the component online.
	Heartbeat(ctx context.Context, componentType models.RuntimeComponentType, name string) error

	// List returns every registered component.
	List(ctx context.Context) ([]*models.RuntimeComponent, error)

	// Deregister removes a component's liveness row (graceful shutdown).
	Deregister(ctx context.Context, componentType models.RuntimeComponentType, name string) error
}

// Store is the pgx-backed Registry implementation.
type Store struct {
	db  *dbx.DB
	log *logger.Logger
}

// NewStore wraps an already-connected pool.
func NewStore(db *dbx.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log}
}

var _ Registry = (*Store)(nil)

func (s *Store) Register(ctx context.Context, req RegisterRequest) (*models.RuntimeComponent, error) {
	if req.ComponentType == "" || req.Name == "" {
		return nil, fmt.Errorf("runtime: component_type and name are required")
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO runtime (component_type, name, base_url, status, labels, capacity, metadata, last_heartbeat, created_at)
		VALUES ($1, $2, $3, 'online', $4, $5, $6, now(), now())
		ON CONFLICT (component_type, name) DO UPDATE SET
			base_url       = EXCLUDED.base_url,
			status         = 'online',
			labels         = EXCLUDED.labels,
			capacity       = EXCLUDED.capacity,
			metadata       = EXCLUDED.metadata,
			last_heartbeat = now()
		RETURNING runtime_id, component_type, name, base_url, status, labels, capacity, metadata, last_heartbeat, created_at
	`, req.ComponentType, req.Name, req.BaseURL, nullableJSON(req.Labels), req.Capacity, nullableJSON(req.Metadata))

	component, err := scanComponent(row)
	if err != nil {
		return nil, fmt.Errorf("runtime: register %s/%s: %w", req.ComponentType, req.Name, err)
	}

	s.log.Info("runtime component registered", "component_type", req.ComponentType, "name", req.Name)
	return component, nil
}

func (s *Store) Heartbeat(ctx context.Context, componentType models.RuntimeComponentType, name string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE runtime SET last_heartbeat = now(), status = 'online'
		WHERE component_type = $1 AND name = $2
	`, componentType, name)
	if err != nil {
		return fmt.Errorf("runtime: heartbeat %s/%s: %w", componentType, name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*models.RuntimeComponent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT runtime_id, component_type, name, base_url, status, labels, capacity, metadata, last_heartbeat, created_at
		FROM runtime ORDER BY component_type, name
	`)
	if err != nil {
		return nil, fmt.Errorf("runtime: list: %w", err)
	}
	defer rows.Close()

	var out []*models.RuntimeComponent
	for rows.Next() {
		component, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("runtime: scan: %w", err)
		}
		out = append(out, component)
	}
	return out, rows.Err()
}

func (s *Store) Deregister(ctx context.Context, componentType models.RuntimeComponentType, name string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM runtime WHERE component_type = $1 AND name = $2`, componentType, name)
	if err != nil {
		return fmt.Errorf("runtime: deregister %s/%s: %w", componentType, name, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComponent(row rowScanner) (*models.RuntimeComponent, error) {
	var c models.RuntimeComponent
	err := row.Scan(&c.RuntimeID, &c.ComponentType, &c.Name, &c.BaseURL, &c.Status, &c.Labels, &c.Capacity, &c.Metadata, &c.LastHeartbeat, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
