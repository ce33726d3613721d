package context

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noetl/noetl/common/dbx"
)

// WorkloadStore loads and persists the workload object an execution was
// started with (spec.md §4.5 step 1's primary source, the `workload`
// table).
type WorkloadStore interface {
	Load(ctx context.Context, executionID int64) (map[string]any, error)

	// Save persists the initial workload at execution start, alongside the
	// catalog path/version the execution was resolved against so later
	// reads of the same row can recover both without a join back to event
	// history.
	Save(ctx context.Context, executionID int64, path, version string, workload map[string]any) error
}

// PostgresWorkloadStore reads from the `workload` table.
type PostgresWorkloadStore struct {
	db *dbx.DB
}

// NewPostgresWorkloadStore wraps an already-connected pool.
func NewPostgresWorkloadStore(db *dbx.DB) *PostgresWorkloadStore {
	return &PostgresWorkloadStore{db: db}
}

var _ WorkloadStore = (*PostgresWorkloadStore)(nil)

func (s *PostgresWorkloadStore) Load(ctx context.Context, executionID int64) (map[string]any, error) {
	var raw json.RawMessage
	err := s.db.QueryRow(ctx, `
		SELECT data FROM workload WHERE execution_id = $1
	`, executionID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load workload: %w", err)
	}

	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("parse workload: %w", err)
	}

	// The workload table stores {"path":..., "version":..., "workload": {...}};
	// the rendering context only wants the inner object (§4.5 step 1).
	if inner, ok := envelope["workload"].(map[string]any); ok {
		return inner, nil
	}
	return envelope, nil
}

func (s *PostgresWorkloadStore) Save(ctx context.Context, executionID int64, path, version string, workload map[string]any) error {
	envelope, err := json.Marshal(map[string]any{
		"path":     path,
		"version":  version,
		"workload": workload,
	})
	if err != nil {
		return fmt.Errorf("marshal workload envelope: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO workload (execution_id, data, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (execution_id) DO UPDATE SET data = EXCLUDED.data
	`, executionID, envelope)
	if err != nil {
		return fmt.Errorf("save workload: %w", err)
	}
	return nil
}

// MemoryWorkloadStore is an in-memory fake for Context Service unit tests.
type MemoryWorkloadStore struct {
	byExecution map[int64]map[string]any
}

// NewMemoryWorkloadStore creates an empty in-memory store.
func NewMemoryWorkloadStore() *MemoryWorkloadStore {
	return &MemoryWorkloadStore{byExecution: make(map[int64]map[string]any)}
}

var _ WorkloadStore = (*MemoryWorkloadStore)(nil)

func (s *MemoryWorkloadStore) Set(executionID int64, workload map[string]any) {
	s.byExecution[executionID] = workload
}

func (s *MemoryWorkloadStore) Load(ctx context.Context, executionID int64) (map[string]any, error) {
	return s.byExecution[executionID], nil
}

func (s *MemoryWorkloadStore) Save(ctx context.Context, executionID int64, path, version string, workload map[string]any) error {
	s.byExecution[executionID] = workload
	return nil
}
