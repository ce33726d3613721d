package models

import (
	"encoding/json"
	"time"

	"github.com/noetl/noetl/common/ids"
)

// QueueStatus is the closed status set for queue rows (§3).
type QueueStatus string

const (
	QueueQueued QueueStatus = "queued"
	QueueLeased QueueStatus = "leased"
	QueueDone   QueueStatus = "done"
	QueueFailed QueueStatus = "failed"
	QueueDead   QueueStatus = "dead"
)

// QueueJob is a durable work item keyed by (execution_id, node_id).
type QueueJob struct {
	QueueID      ids.ID          `db:"queue_id" json:"queue_id"`
	ExecutionID  ids.ID          `db:"execution_id" json:"execution_id"`
	NodeID       string          `db:"node_id" json:"node_id"`
	CatalogID    *ids.ID         `db:"catalog_id" json:"catalog_id,omitempty"`
	Action       json.RawMessage `db:"action" json:"action"`
	Context      json.RawMessage `db:"context" json:"context"`
	Priority     int             `db:"priority" json:"priority"`
	Status       QueueStatus     `db:"status" json:"status"`
	Attempts     int             `db:"attempts" json:"attempts"`
	MaxAttempts  int             `db:"max_attempts" json:"max_attempts"`
	AvailableAt  time.Time       `db:"available_at" json:"available_at"`
	LeaseUntil   *time.Time      `db:"lease_until" json:"lease_until,omitempty"`
	LastHeartbeat *time.Time     `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	WorkerID     string          `db:"worker_id" json:"worker_id,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// IsTerminal reports whether the row will never transition again.
func (j QueueJob) IsTerminal() bool {
	return j.Status == QueueDone || j.Status == QueueDead
}
