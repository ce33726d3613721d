package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noetl/noetl/common/dbx"
	"github.com/noetl/noetl/common/models"
)

// PostgresQueue is the pgx-backed Queue, grounded on the original
// noetl/api/routers/queue.py router's enqueue_job/lease_job/complete_job/
// ack_job/nack_job/reap_expired_jobs SQL shapes.
type PostgresQueue struct {
	db *dbx.DB
}

// NewPostgresQueue wraps an already-connected pool.
func NewPostgresQueue(db *dbx.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

var _ Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	availableAt := req.AvailableAt
	if availableAt.IsZero() {
		availableAt = time.Now()
	}

	var queueID int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO queue (
			execution_id, node_id, catalog_id, action, context, priority,
			status, attempts, max_attempts, available_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, 'queued', 0, $7, $8, now()
		)
		ON CONFLICT (execution_id, node_id) WHERE status NOT IN ('done', 'dead')
		DO NOTHING
		RETURNING queue_id
	`, req.ExecutionID, req.NodeID, req.CatalogID, req.Action, req.Context,
		req.Priority, req.MaxAttempts, availableAt,
	).Scan(&queueID)

	if err == pgx.ErrNoRows {
		// Conflict: a non-terminal row already exists for this (execution_id,
		// node_id) pair. Enqueue is idempotent — return the existing id.
		err = q.db.QueryRow(ctx, `
			SELECT queue_id FROM queue
			WHERE execution_id = $1 AND node_id = $2 AND status NOT IN ('done', 'dead')
			ORDER BY queue_id DESC LIMIT 1
		`, req.ExecutionID, req.NodeID).Scan(&queueID)
		if err != nil {
			return 0, fmt.Errorf("enqueue: resolve existing row: %w", err)
		}
		return queueID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	return queueID, nil
}

func (q *PostgresQueue) Lease(ctx context.Context, workerID string, leaseSeconds int) (*models.QueueJob, error) {
	row := q.db.QueryRow(ctx, `
		WITH next_job AS (
			SELECT queue_id FROM queue
			WHERE status = 'queued' AND available_at <= now()
			ORDER BY priority DESC, queue_id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue SET
			status = 'leased',
			worker_id = $1,
			lease_until = now() + ($2 || ' seconds')::interval,
			attempts = attempts + 1,
			last_heartbeat = now()
		FROM next_job
		WHERE queue.queue_id = next_job.queue_id
		RETURNING queue.queue_id, queue.execution_id, queue.node_id, queue.catalog_id,
		          queue.action, queue.context, queue.priority, queue.status,
		          queue.attempts, queue.max_attempts, queue.available_at,
		          queue.lease_until, queue.last_heartbeat, queue.worker_id, queue.created_at
	`, workerID, leaseSeconds)

	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}
	return job, nil
}

func (q *PostgresQueue) Heartbeat(ctx context.Context, queueID int64, workerID string, extendSeconds int) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE queue SET
			last_heartbeat = now(),
			lease_until = CASE WHEN $3 > 0 THEN now() + ($3 || ' seconds')::interval ELSE lease_until END
		WHERE queue_id = $1 AND worker_id = $2 AND status = 'leased'
	`, queueID, workerID, extendSeconds)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if owned, existsErr := q.rowOwnedByOther(ctx, queueID, workerID); existsErr == nil && owned {
			return ErrWorkerMismatch
		}
		return ErrNotFound
	}
	return nil
}

func (q *PostgresQueue) Complete(ctx context.Context, queueID int64, workerID string) (*models.QueueJob, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE queue SET status = 'done', lease_until = NULL
		WHERE queue_id = $1 AND worker_id = $2 AND status = 'leased'
		RETURNING queue_id, execution_id, node_id, catalog_id, action, context,
		          priority, status, attempts, max_attempts, available_at,
		          lease_until, last_heartbeat, worker_id, created_at
	`, queueID, workerID)

	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		if owned, existsErr := q.rowOwnedByOther(ctx, queueID, workerID); existsErr == nil && owned {
			return nil, ErrWorkerMismatch
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return job, nil
}

func (q *PostgresQueue) Fail(ctx context.Context, queueID int64, workerID string, retry bool, retryDelay time.Duration) error {
	var attempts, maxAttempts int
	var ownerID string
	err := q.db.QueryRow(ctx, `
		SELECT attempts, max_attempts, worker_id FROM queue WHERE queue_id = $1
	`, queueID).Scan(&attempts, &maxAttempts, &ownerID)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("fail: load row: %w", err)
	}
	if ownerID != workerID {
		return ErrWorkerMismatch
	}

	dead := !retry || attempts >= maxAttempts

	var tag pgconn.CommandTag
	if dead {
		tag, err = q.db.Exec(ctx, `
			UPDATE queue SET status = 'dead', lease_until = NULL
			WHERE queue_id = $1 AND worker_id = $2 AND status = 'leased'
		`, queueID, workerID)
	} else {
		tag, err = q.db.Exec(ctx, `
			UPDATE queue SET
				status = 'queued',
				worker_id = '',
				lease_until = NULL,
				available_at = now() + ($3 || ' seconds')::interval
			WHERE queue_id = $1 AND worker_id = $2 AND status = 'leased'
		`, queueID, workerID, retryDelay.Seconds())
	}
	if err != nil {
		return fmt.Errorf("fail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkerMismatch
	}
	return nil
}

func (q *PostgresQueue) ReapExpired(ctx context.Context) (int, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE queue SET status = 'queued', worker_id = '', lease_until = NULL
		WHERE status = 'leased' AND lease_until < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("reap expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (q *PostgresQueue) ByExecutionNode(ctx context.Context, executionID int64, nodeID string) (*models.QueueJob, error) {
	row := q.db.QueryRow(ctx, `
		SELECT queue_id, execution_id, node_id, catalog_id, action, context,
		       priority, status, attempts, max_attempts, available_at,
		       lease_until, last_heartbeat, worker_id, created_at
		FROM queue
		WHERE execution_id = $1 AND node_id = $2 AND status NOT IN ('done', 'dead')
		ORDER BY queue_id DESC LIMIT 1
	`, executionID, nodeID)

	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("by execution node: %w", err)
	}
	return job, nil
}

func (q *PostgresQueue) MarkDone(ctx context.Context, queueID int64) error {
	_, err := q.db.Exec(ctx, `UPDATE queue SET status = 'done', lease_until = NULL WHERE queue_id = $1`, queueID)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}

func (q *PostgresQueue) rowOwnedByOther(ctx context.Context, queueID int64, workerID string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM queue WHERE queue_id = $1 AND worker_id <> $2)
	`, queueID, workerID).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.QueueJob, error) {
	var j models.QueueJob
	err := row.Scan(
		&j.QueueID, &j.ExecutionID, &j.NodeID, &j.CatalogID, &j.Action, &j.Context,
		&j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts, &j.AvailableAt,
		&j.LeaseUntil, &j.LastHeartbeat, &j.WorkerID, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
