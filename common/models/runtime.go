package models

import (
	"encoding/json"
	"time"

	"github.com/noetl/noetl/common/ids"
)

// RuntimeComponentType is the closed set of process kinds that register in
// the Runtime Registry.
type RuntimeComponentType string

const (
	ComponentServerAPI   RuntimeComponentType = "server_api"
	ComponentWorkerPool  RuntimeComponentType = "worker_pool"
	ComponentBroker      RuntimeComponentType = "broker"
)

// RuntimeStatus reflects whether the sweeper still considers the row live.
type RuntimeStatus string

const (
	RuntimeOnline  RuntimeStatus = "online"
	RuntimeOffline RuntimeStatus = "offline"
)

// RuntimeComponent is a liveness row for one server/worker/broker process,
// unique on (component_type, name).
type RuntimeComponent struct {
	RuntimeID     ids.ID               `db:"runtime_id" json:"runtime_id"`
	ComponentType RuntimeComponentType `db:"component_type" json:"component_type"`
	Name          string               `db:"name" json:"name"`
	BaseURL       string               `db:"base_url" json:"base_url,omitempty"`
	Status        RuntimeStatus        `db:"status" json:"status"`
	Labels        json.RawMessage      `db:"labels" json:"labels,omitempty"`
	Capacity      int                  `db:"capacity" json:"capacity"`
	Metadata      json.RawMessage      `db:"metadata" json:"metadata,omitempty"`
	LastHeartbeat time.Time            `db:"last_heartbeat" json:"last_heartbeat"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
}
