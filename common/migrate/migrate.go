// Package migrate owns the schema bootstrap every NoETL process depends on
// (spec.md §6): the event, queue, workload, catalog, runtime and schedule
// tables, plus the event_log view kept for naming parity with the
// originating system. The teacher assumes a pre-provisioned database and
// ships no migration step of its own; this is grounded instead on
// common/dbx.New's ping-then-ready readiness idiom, extended with an
// idempotent CREATE TABLE IF NOT EXISTS script run once against the admin
// role before the application pool ever opens a connection.
package migrate

import (
	"context"
	"fmt"

	"github.com/noetl/noetl/common/dbx"
)

// schema is applied with a single simple-protocol Exec, so every statement
// must be safely re-runnable. The leading CREATE SCHEMA/SET search_path
// pair runs on the same connection checkout as the table DDL that follows,
// since a pooled connection isn't guaranteed to survive between separate
// Exec calls.
const schemaTemplate = `
CREATE SCHEMA IF NOT EXISTS %[1]s;
SET search_path TO %[1]s;

CREATE TABLE IF NOT EXISTS event (
	execution_id        BIGINT NOT NULL,
	event_id             BIGINT NOT NULL,
	parent_event_id      BIGINT,
	parent_execution_id  BIGINT,
	timestamp            TIMESTAMPTZ NOT NULL DEFAULT now(),
	event_type           TEXT NOT NULL,
	node_id              TEXT NOT NULL DEFAULT '',
	node_name            TEXT NOT NULL DEFAULT '',
	node_type            TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'CREATED',
	duration_ms          BIGINT,
	context              JSONB,
	result               JSONB,
	metadata             JSONB,
	error                TEXT NOT NULL DEFAULT '',
	stack_trace          TEXT NOT NULL DEFAULT '',
	loop_id              TEXT NOT NULL DEFAULT '',
	loop_name            TEXT NOT NULL DEFAULT '',
	iterator             TEXT NOT NULL DEFAULT '',
	current_index        INTEGER,
	current_item         JSONB,
	PRIMARY KEY (execution_id, event_id)
);
CREATE INDEX IF NOT EXISTS event_execution_id_idx ON event (execution_id);
CREATE INDEX IF NOT EXISTS event_loop_idx ON event (execution_id, loop_name) WHERE loop_name <> '';

CREATE TABLE IF NOT EXISTS queue (
	queue_id       BIGSERIAL PRIMARY KEY,
	execution_id   BIGINT NOT NULL,
	node_id        TEXT NOT NULL,
	catalog_id     BIGINT,
	action         JSONB NOT NULL,
	context        JSONB,
	priority       INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'queued',
	attempts       INTEGER NOT NULL DEFAULT 0,
	max_attempts   INTEGER NOT NULL DEFAULT 3,
	available_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	lease_until    TIMESTAMPTZ,
	last_heartbeat TIMESTAMPTZ,
	worker_id      TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS queue_execution_node_live_idx
	ON queue (execution_id, node_id) WHERE status NOT IN ('done', 'dead');
CREATE INDEX IF NOT EXISTS queue_lease_idx ON queue (status, available_at);

CREATE TABLE IF NOT EXISTS workload (
	execution_id BIGINT PRIMARY KEY,
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS catalog (
	resource_path    TEXT NOT NULL,
	resource_version TEXT NOT NULL,
	resource_type    TEXT NOT NULL DEFAULT 'playbook',
	content          TEXT NOT NULL,
	payload          JSONB,
	meta             JSONB,
	registered_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (resource_path, resource_version)
);

CREATE TABLE IF NOT EXISTS runtime (
	runtime_id     BIGSERIAL PRIMARY KEY,
	component_type TEXT NOT NULL,
	name           TEXT NOT NULL,
	base_url       TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'online',
	labels         JSONB,
	capacity       INTEGER NOT NULL DEFAULT 0,
	metadata       JSONB,
	last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (component_type, name)
);

CREATE TABLE IF NOT EXISTS schedule (
	schedule_id  BIGSERIAL PRIMARY KEY,
	playbook_id  TEXT NOT NULL,
	cron_expr    TEXT NOT NULL DEFAULT '',
	interval_ms  BIGINT,
	next_run_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	enabled      BOOLEAN NOT NULL DEFAULT true
);

CREATE OR REPLACE VIEW event_log AS SELECT * FROM event;
`

// Apply runs the schema bootstrap against db — which must be an admin-role
// connection (common/dbx.NewAdmin): the application role's pool already has
// search_path pinned to a schema that may not exist yet, and typically lacks
// CREATE privileges on the database. cmd/server opens a short-lived admin
// connection to call this before serving traffic.
func Apply(db *dbx.DB, schemaName string) error {
	stmt := fmt.Sprintf(schemaTemplate, schemaName)
	if _, err := db.Exec(context.Background(), stmt); err != nil {
		return fmt.Errorf("migrate: apply schema: %w", err)
	}
	return nil
}
