package plugins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres dispatches an action shaped {type: postgres, dsn, query,
// params?} against a caller-supplied connection string, normalizing result
// rows to []map[string]any by column name — the same shape
// common/queue.PostgresQueue's scanJob helpers read columns in.
type Postgres struct{}

// NewPostgres builds a Postgres action plugin.
func NewPostgres() *Postgres { return &Postgres{} }

var _ Plugin = (*Postgres)(nil)

type postgresAction struct {
	DSN    string `json:"dsn"`
	Query  string `json:"query"`
	Params []any  `json:"params"`
}

func (p *Postgres) Execute(ctx context.Context, action json.RawMessage) (Result, error) {
	var a postgresAction
	if err := json.Unmarshal(action, &a); err != nil {
		return Result{}, fmt.Errorf("postgres plugin: parse action: %w", err)
	}
	if a.DSN == "" || a.Query == "" {
		return Result{}, fmt.Errorf("postgres plugin: action requires dsn and query")
	}

	pool, err := pgxpool.New(ctx, a.DSN)
	if err != nil {
		return Result{}, fmt.Errorf("postgres plugin: connect: %w", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, a.Query, a.Params...)
	if err != nil {
		return Result{}, fmt.Errorf("postgres plugin: query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Result{}, fmt.Errorf("postgres plugin: scan row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("postgres plugin: rows: %w", err)
	}

	return Result{Status: "completed", Data: map[string]any{"rows": out, "row_count": len(out)}}, nil
}
