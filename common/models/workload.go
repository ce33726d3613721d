package models

import (
	"encoding/json"
	"time"

	"github.com/noetl/noetl/common/ids"
)

// Workload is the per-execution bag of initial parameters, written once at
// execution start and read thereafter by the Context Service.
type Workload struct {
	ExecutionID ids.ID          `db:"execution_id" json:"execution_id"`
	Data        json.RawMessage `db:"data" json:"data"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// CatalogEntry is a versioned, immutable playbook registration. The core
// treats it as a read-only external collaborator (spec.md §1) but caches it
// locally for the Broker and Context Service.
type CatalogEntry struct {
	ResourcePath    string          `db:"resource_path" json:"resource_path"`
	ResourceVersion string          `db:"resource_version" json:"resource_version"`
	ResourceType    string          `db:"resource_type" json:"resource_type"`
	Content         string          `db:"content" json:"content"`
	Payload         json.RawMessage `db:"payload" json:"payload,omitempty"`
	Meta            json.RawMessage `db:"meta" json:"meta,omitempty"`
	RegisteredAt    time.Time       `db:"registered_at" json:"registered_at"`
}

// Schedule is a peripheral cron/interval trigger; not evaluated by the core,
// only persisted so an external scheduler can read/claim it.
type Schedule struct {
	ScheduleID ids.ID    `db:"schedule_id" json:"schedule_id"`
	PlaybookID string    `db:"playbook_id" json:"playbook_id"`
	CronExpr   string    `db:"cron_expr" json:"cron_expr,omitempty"`
	IntervalMS *int64    `db:"interval_ms" json:"interval_ms,omitempty"`
	NextRunAt  time.Time `db:"next_run_at" json:"next_run_at"`
	Enabled    bool      `db:"enabled" json:"enabled"`
}
