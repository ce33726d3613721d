// Package models defines the entity structs of the NoETL data model (§3):
// plain structs carrying db and json struct tags, in the shape the teacher's
// cmd/orchestrator/models package uses for its Run/Tag/Workflow entities.
package models

import (
	"encoding/json"
	"time"

	"github.com/noetl/noetl/common/ids"
)

// EventType is drawn from the closed set spec.md §3 defines.
type EventType string

const (
	EventExecutionStart    EventType = "execution_start"
	EventStepStarted       EventType = "step_started"
	EventActionStarted     EventType = "action_started"
	EventActionCompleted   EventType = "action_completed"
	EventActionFailed      EventType = "action_failed"
	EventLoopIteration     EventType = "loop_iteration"
	EventLoopCompleted     EventType = "loop_completed"
	EventResult            EventType = "result"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionComplete EventType = "execution_complete"
	EventError             EventType = "error"
	EventErrorResolved     EventType = "error_resolved"
)

// EventStatus mirrors spec.md §3's closed status set.
type EventStatus string

const (
	StatusCreated    EventStatus = "CREATED"
	StatusInProgress EventStatus = "IN_PROGRESS"
	StatusCompleted  EventStatus = "COMPLETED"
	StatusFailed     EventStatus = "FAILED"
	StatusSkipped    EventStatus = "SKIPPED"
)

// Event is the core append-only record: one row per (execution_id, event_id).
type Event struct {
	ExecutionID     ids.ID          `db:"execution_id" json:"execution_id"`
	EventID         ids.ID          `db:"event_id" json:"event_id"`
	ParentEventID   *ids.ID         `db:"parent_event_id" json:"parent_event_id,omitempty"`
	ParentExecution *ids.ID         `db:"parent_execution_id" json:"parent_execution_id,omitempty"`
	Timestamp       time.Time       `db:"timestamp" json:"timestamp"`
	EventType       EventType       `db:"event_type" json:"event_type"`
	NodeID          string          `db:"node_id" json:"node_id"`
	NodeName        string          `db:"node_name" json:"node_name"`
	NodeType        string          `db:"node_type" json:"node_type"`
	Status          EventStatus     `db:"status" json:"status"`
	DurationMS      *int64          `db:"duration_ms" json:"duration_ms,omitempty"`
	Context         json.RawMessage `db:"context" json:"context,omitempty"`
	Result          json.RawMessage `db:"result" json:"result,omitempty"`
	Metadata        json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	Error           string          `db:"error" json:"error,omitempty"`
	StackTrace      string          `db:"stack_trace" json:"stack_trace,omitempty"`
	LoopID          string          `db:"loop_id" json:"loop_id,omitempty"`
	LoopName        string          `db:"loop_name" json:"loop_name,omitempty"`
	Iterator        string          `db:"iterator" json:"iterator,omitempty"`
	CurrentIndex    *int            `db:"current_index" json:"current_index,omitempty"`
	CurrentItem     json.RawMessage `db:"current_item" json:"current_item,omitempty"`
}

// IsTerminal reports whether this event type ends an execution.
func (e Event) IsTerminal() bool {
	return e.EventType == EventExecutionCompleted || e.EventType == EventExecutionComplete
}
