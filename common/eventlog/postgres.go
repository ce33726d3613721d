package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noetl/noetl/common/dbx"
	"github.com/noetl/noetl/common/models"
)

// PostgresEventLog is the pgx-backed EventLog, grounded on the query shapes
// of the original noetl/storage/eventlog.py module, translated to pgx
// parameterized SQL the way common/repository's DAOs do it.
type PostgresEventLog struct {
	db *dbx.DB
}

// NewPostgresEventLog wraps an already-connected pool.
func NewPostgresEventLog(db *dbx.DB) *PostgresEventLog {
	return &PostgresEventLog{db: db}
}

var _ EventLog = (*PostgresEventLog)(nil)

func (l *PostgresEventLog) Append(ctx context.Context, e *models.Event) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO event (
			execution_id, event_id, parent_event_id, parent_execution_id,
			timestamp, event_type, node_id, node_name, node_type, status,
			duration_ms, context, result, metadata, error, stack_trace,
			loop_id, loop_name, iterator, current_index, current_item
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
		ON CONFLICT (execution_id, event_id) DO NOTHING
	`,
		e.ExecutionID, e.EventID, e.ParentEventID, e.ParentExecution,
		e.Timestamp, e.EventType, e.NodeID, e.NodeName, e.NodeType, e.Status,
		e.DurationMS, nullableJSON(e.Context), nullableJSON(e.Result), nullableJSON(e.Metadata),
		e.Error, e.StackTrace, e.LoopID, e.LoopName, e.Iterator, e.CurrentIndex,
		nullableJSON(e.CurrentItem),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (l *PostgresEventLog) EarliestContext(ctx context.Context, executionID int64) (json.RawMessage, error) {
	var ctxJSON json.RawMessage
	err := l.db.QueryRow(ctx, `
		SELECT context FROM event
		WHERE execution_id = $1
		ORDER BY event_id ASC
		LIMIT 1
	`, executionID).Scan(&ctxJSON)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("earliest context: %w", err)
	}
	return ctxJSON, nil
}

func (l *PostgresEventLog) AllResults(ctx context.Context, executionID int64) ([]NodeResult, error) {
	rows, err := l.db.Query(ctx, `
		SELECT node_name, node_type, status, result
		FROM event
		WHERE execution_id = $1
		  AND event_type IN ('action_completed', 'result')
		  AND node_name <> ''
		ORDER BY event_id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("all results: %w", err)
	}
	defer rows.Close()

	var out []NodeResult
	for rows.Next() {
		var r NodeResult
		if err := rows.Scan(&r.NodeName, &r.NodeType, &r.Status, &r.Result); err != nil {
			return nil, fmt.Errorf("scan node result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all results rows: %w", err)
	}
	return out, nil
}

func (l *PostgresEventLog) CountLoopIterations(ctx context.Context, executionID int64, step string) (int, error) {
	var count int
	err := l.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM event
		WHERE execution_id = $1 AND event_type = 'loop_iteration' AND loop_name = $2
	`, executionID, step).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count loop iterations: %w", err)
	}
	return count, nil
}

func (l *PostgresEventLog) CountCompletedIterationsWithChild(ctx context.Context, executionID int64, step string) (int, error) {
	var count int
	err := l.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM event
		WHERE execution_id = $1
		  AND loop_name = $2
		  AND event_type IN ('action_completed', 'result')
		  AND (context::jsonb) ->> 'child_execution_id' IS NOT NULL
		  AND COALESCE((context::jsonb) ->> 'skipped', 'false') <> 'true'
	`, executionID, step).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completed iterations with child: %w", err)
	}
	return count, nil
}

func (l *PostgresEventLog) HasExecutionStart(ctx context.Context, executionID int64) (bool, error) {
	return l.eventTypeExists(ctx, executionID, models.EventExecutionStart)
}

func (l *PostgresEventLog) HasExecutionCompleted(ctx context.Context, executionID int64) (bool, error) {
	var exists bool
	err := l.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM event
			WHERE execution_id = $1 AND event_type IN ('execution_completed', 'execution_complete')
		)
	`, executionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has execution completed: %w", err)
	}
	return exists, nil
}

func (l *PostgresEventLog) ListActiveExecutionIDs(ctx context.Context) ([]int64, error) {
	rows, err := l.db.Query(ctx, `
		SELECT DISTINCT execution_id FROM event
		WHERE execution_id NOT IN (
			SELECT execution_id FROM event
			WHERE event_type IN ('execution_completed', 'execution_complete')
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("list active executions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l *PostgresEventLog) eventTypeExists(ctx context.Context, executionID int64, t models.EventType) (bool, error) {
	var exists bool
	err := l.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM event WHERE execution_id = $1 AND event_type = $2)
	`, executionID, t).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("event type exists: %w", err)
	}
	return exists, nil
}

func (l *PostgresEventLog) LatestMeaningfulResult(ctx context.Context, executionID int64) (*models.Event, error) {
	row := l.db.QueryRow(ctx, `
		SELECT execution_id, event_id, parent_event_id, parent_execution_id, timestamp,
		       event_type, node_id, node_name, node_type, status, duration_ms, context,
		       result, metadata, error, stack_trace, loop_id, loop_name, iterator,
		       current_index, current_item
		FROM event
		WHERE execution_id = $1
		  AND event_type IN ('action_completed', 'result')
		  AND status <> 'SKIPPED'
		  AND COALESCE((context::jsonb) ->> 'reason', '') <> 'control_step'
		ORDER BY event_id DESC
		LIMIT 1
	`, executionID)
	e, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest meaningful result: %w", err)
	}
	return e, nil
}

func (l *PostgresEventLog) ListChildExecutions(ctx context.Context, parentExecutionID int64, step string) ([]ChildExecution, error) {
	rows, err := l.db.Query(ctx, `
		SELECT
			((context::jsonb) ->> 'child_execution_id')::bigint,
			loop_id, loop_name, iterator, current_index, current_item
		FROM event
		WHERE execution_id = $1
		  AND event_type = 'loop_iteration'
		  AND loop_name = $2
		  AND (context::jsonb) ->> 'child_execution_id' IS NOT NULL
		ORDER BY event_id ASC
	`, parentExecutionID, step)
	if err != nil {
		return nil, fmt.Errorf("list child executions: %w", err)
	}
	defer rows.Close()

	var out []ChildExecution
	for rows.Next() {
		var c ChildExecution
		var index *int
		if err := rows.Scan(&c.ChildExecutionID, &c.LoopID, &c.LoopName, &c.Iterator, &index, &c.CurrentItem); err != nil {
			return nil, fmt.Errorf("scan child execution: %w", err)
		}
		c.ParentStep = step
		if index != nil {
			c.CurrentIndex = *index
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list child executions rows: %w", err)
	}
	return out, nil
}

func (l *PostgresEventLog) ListByExecution(ctx context.Context, executionID int64) ([]*models.Event, error) {
	rows, err := l.db.Query(ctx, `
		SELECT execution_id, event_id, parent_event_id, parent_execution_id, timestamp,
		       event_type, node_id, node_name, node_type, status, duration_ms, context,
		       result, metadata, error, stack_trace, loop_id, loop_name, iterator,
		       current_index, current_item
		FROM event
		WHERE execution_id = $1
		ORDER BY event_id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list by execution: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		e, err := scanEventRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list by execution rows: %w", err)
	}
	return out, nil
}

func (l *PostgresEventLog) ByID(ctx context.Context, eventID int64) (*models.Event, error) {
	row := l.db.QueryRow(ctx, `
		SELECT execution_id, event_id, parent_event_id, parent_execution_id, timestamp,
		       event_type, node_id, node_name, node_type, status, duration_ms, context,
		       result, metadata, error, stack_trace, loop_id, loop_name, iterator,
		       current_index, current_item
		FROM event
		WHERE event_id = $1
	`, eventID)
	e, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("event by id: %w", err)
	}
	return e, nil
}

func (l *PostgresEventLog) LoopIterationByChild(ctx context.Context, parentExecutionID int64, childExecutionID int64) (*models.Event, error) {
	row := l.db.QueryRow(ctx, `
		SELECT execution_id, event_id, parent_event_id, parent_execution_id, timestamp,
		       event_type, node_id, node_name, node_type, status, duration_ms, context,
		       result, metadata, error, stack_trace, loop_id, loop_name, iterator,
		       current_index, current_item
		FROM event
		WHERE execution_id = $1
		  AND event_type = 'loop_iteration'
		  AND ((context::jsonb) ->> 'child_execution_id')::bigint = $2
		LIMIT 1
	`, parentExecutionID, childExecutionID)
	e, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loop iteration by child: %w", err)
	}
	return e, nil
}

func (l *PostgresEventLog) CandidateResults(ctx context.Context, executionID int64, eventTypes ...models.EventType) ([]*models.Event, error) {
	rows, err := l.db.Query(ctx, `
		SELECT execution_id, event_id, parent_event_id, parent_execution_id, timestamp,
		       event_type, node_id, node_name, node_type, status, duration_ms, context,
		       result, metadata, error, stack_trace, loop_id, loop_name, iterator,
		       current_index, current_item
		FROM event
		WHERE execution_id = $1 AND event_type = ANY($2)
		ORDER BY event_id ASC
	`, executionID, eventTypes)
	if err != nil {
		return nil, fmt.Errorf("candidate results: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		e, err := scanEventRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidate results rows: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	return scanEventRows(row)
}

func scanEventRows(row rowScanner) (*models.Event, error) {
	var e models.Event
	err := row.Scan(
		&e.ExecutionID, &e.EventID, &e.ParentEventID, &e.ParentExecution, &e.Timestamp,
		&e.EventType, &e.NodeID, &e.NodeName, &e.NodeType, &e.Status, &e.DurationMS,
		&e.Context, &e.Result, &e.Metadata, &e.Error, &e.StackTrace, &e.LoopID,
		&e.LoopName, &e.Iterator, &e.CurrentIndex, &e.CurrentItem,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
