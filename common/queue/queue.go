// Package queue implements the durable work Queue (spec.md §4.2): a
// lease-based FIFO-with-priority of pending jobs supporting enqueue, lease,
// heartbeat, complete, fail and reap_expired.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/noetl/noetl/common/models"
)

// ErrWorkerMismatch is returned by Heartbeat/Complete/Fail when the caller's
// worker_id does not own the lease — a stolen-lease nack, reported as a
// distinct non-retriable conflict per spec §4.2/§7.
var ErrWorkerMismatch = errors.New("worker mismatch")

// ErrNotFound is returned when the referenced queue row does not exist.
var ErrNotFound = errors.New("queue row not found")

// Queue is the interface the Broker and Worker Pool depend on.
type Queue interface {
	// Enqueue inserts a queued row; on an (execution_id, node_id) conflict it
	// does nothing and returns the existing row's id — idempotent by design.
	Enqueue(ctx context.Context, job EnqueueRequest) (int64, error)

	// Lease atomically selects and claims the oldest eligible row, ordered by
	// priority DESC, id ASC, skipping rows already locked by a concurrent
	// lease. Returns (nil, nil) when no eligible row exists.
	Lease(ctx context.Context, workerID string, leaseSeconds int) (*models.QueueJob, error)

	// Heartbeat updates last_heartbeat and optionally extends lease_until.
	Heartbeat(ctx context.Context, queueID int64, workerID string, extendSeconds int) error

	// Complete marks a row done, clearing lease_until.
	Complete(ctx context.Context, queueID int64, workerID string) (*models.QueueJob, error)

	// Fail transitions a row to dead (exhausted retries, or retry=false) or
	// re-queues it with a delay.
	Fail(ctx context.Context, queueID int64, workerID string, retry bool, retryDelay time.Duration) error

	// ReapExpired resets every leased row whose lease_until has passed back
	// to queued, clearing worker_id, and returns how many rows it reclaimed.
	ReapExpired(ctx context.Context) (int, error)

	// ByExecutionNode returns the current non-terminal row for (execution_id,
	// node_id), used by the broker to avoid re-enqueuing a live job.
	ByExecutionNode(ctx context.Context, executionID int64, nodeID string) (*models.QueueJob, error)

	// MarkDone marks a specific row done regardless of lease ownership, used
	// by the loop aggregation protocol to close out the parent iterator's own
	// row once all iterations have been aggregated.
	MarkDone(ctx context.Context, queueID int64) error
}

// EnqueueRequest is the input to Enqueue.
type EnqueueRequest struct {
	ExecutionID int64
	NodeID      string
	CatalogID   *int64
	Action      json.RawMessage
	Context     json.RawMessage
	Priority    int
	MaxAttempts int
	AvailableAt time.Time
}
