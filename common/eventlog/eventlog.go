// Package eventlog implements the Event Log component (spec.md §4.1): an
// append-only, per-execution ordered history and the read operations the
// Broker and Context Service need.
package eventlog

import (
	"context"
	"encoding/json"

	"github.com/noetl/noetl/common/models"
)

// NodeResult is one (node_name, result) pair read back from the log.
type NodeResult struct {
	NodeName string
	NodeType string
	Status   models.EventStatus
	Result   json.RawMessage
}

// ChildExecution links a parent's loop_iteration event to the child
// execution it started, recovered from context.child_execution_id.
type ChildExecution struct {
	ChildExecutionID int64
	ParentStep       string
	LoopID           string
	LoopName         string
	Iterator         string
	CurrentIndex     int
	CurrentItem      json.RawMessage
}

// EventLog is the interface the Broker, Context Service and HTTP handlers
// depend on — a pgx-backed implementation drives it in production; tests use
// an in-memory fake so broker/aggregation logic is unit-testable without a
// live Postgres instance.
type EventLog interface {
	// Append inserts one event; on a duplicate (execution_id, event_id) it is
	// a no-op, making retried appends idempotent.
	Append(ctx context.Context, e *models.Event) error

	// EarliestContext returns the context JSON of the first event recorded
	// for the execution (used to recover workload and playbook identity when
	// the workload row itself is missing).
	EarliestContext(ctx context.Context, executionID int64) (json.RawMessage, error)

	// AllResults returns every (node_name, result) pair recorded for the
	// execution, in event order.
	AllResults(ctx context.Context, executionID int64) ([]NodeResult, error)

	// CountLoopIterations counts loop_iteration events for (execution, step).
	CountLoopIterations(ctx context.Context, executionID int64, step string) (int, error)

	// CountCompletedIterationsWithChild counts per-iteration completions that
	// carry a non-empty context.child_execution_id for (execution, step).
	CountCompletedIterationsWithChild(ctx context.Context, executionID int64, step string) (int, error)

	// HasExecutionStart reports whether execution_start has been recorded.
	HasExecutionStart(ctx context.Context, executionID int64) (bool, error)

	// HasExecutionCompleted reports whether a terminal event exists.
	HasExecutionCompleted(ctx context.Context, executionID int64) (bool, error)

	// LatestMeaningfulResult returns the most recent non-skipped,
	// non-control-step action_completed/result event for the execution.
	LatestMeaningfulResult(ctx context.Context, executionID int64) (*models.Event, error)

	// ListChildExecutions returns every child execution a parent started for
	// a given step, parsed from loop_iteration context using the JSONB
	// child_execution_id operator uniformly (spec §9(c)).
	ListChildExecutions(ctx context.Context, parentExecutionID int64, step string) ([]ChildExecution, error)

	// ListByExecution returns the full ordered event history, for the
	// GET /api/events/by-execution/{id} handler.
	ListByExecution(ctx context.Context, executionID int64) ([]*models.Event, error)

	// ByID returns a single event by its event_id.
	ByID(ctx context.Context, eventID int64) (*models.Event, error)

	// LoopIterationByChild finds the parent's loop_iteration event whose
	// context references the given child execution id.
	LoopIterationByChild(ctx context.Context, parentExecutionID int64, childExecutionID int64) (*models.Event, error)

	// CandidateResults returns every event of the given types recorded for an
	// execution, in event order — used by the loop-aggregation final-result
	// search (spec §4.4) to scan candidates in priority order.
	CandidateResults(ctx context.Context, executionID int64, eventTypes ...models.EventType) ([]*models.Event, error)

	// ListActiveExecutionIDs returns every execution that has started but has
	// not yet recorded a terminal event, the standalone broker sweeper's
	// polling source of truth (spec §9's "broker evaluation is eventually
	// consistent within seconds" backstop).
	ListActiveExecutionIDs(ctx context.Context) ([]int64, error)
}
