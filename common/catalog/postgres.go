package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"gopkg.in/yaml.v3"

	"github.com/noetl/noetl/common/dbx"
	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/playbook"
)

// PostgresCatalog is the pgx-backed Catalog client, grounded on
// common/queue.PostgresQueue's query-and-scan shape.
type PostgresCatalog struct {
	db    *dbx.DB
	cache *playbookCache
}

// NewPostgresCatalog wraps an already-connected pool.
func NewPostgresCatalog(db *dbx.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db, cache: newPlaybookCache()}
}

var _ Client = (*PostgresCatalog)(nil)

func (c *PostgresCatalog) ReadPlaybook(ctx context.Context, path, version string) (*playbook.Playbook, error) {
	if pb, ok := c.cache.get(path, version); ok {
		return pb, nil
	}

	entry, err := c.fetchEntry(ctx, path, version)
	if err != nil {
		return nil, err
	}

	pb, err := playbook.Parse([]byte(entry.Content))
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s@%s: %w", path, entry.ResourceVersion, err)
	}
	c.cache.put(path, version, pb)
	c.cache.put(path, entry.ResourceVersion, pb)
	return pb, nil
}

func (c *PostgresCatalog) Load(ctx context.Context, path, version string) (*playbook.Playbook, error) {
	return c.ReadPlaybook(ctx, path, version)
}

func (c *PostgresCatalog) fetchEntry(ctx context.Context, path, version string) (*models.CatalogEntry, error) {
	var row rowScanner
	if version == "" {
		row = c.db.QueryRow(ctx, `
			SELECT resource_path, resource_version, resource_type, content, payload, meta, registered_at
			FROM catalog WHERE resource_path = $1
			ORDER BY registered_at DESC LIMIT 1
		`, path)
	} else {
		row = c.db.QueryRow(ctx, `
			SELECT resource_path, resource_version, resource_type, content, payload, meta, registered_at
			FROM catalog WHERE resource_path = $1 AND resource_version = $2
		`, path, version)
	}

	entry, err := scanEntry(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch %s@%s: %w", path, version, err)
	}
	return entry, nil
}

func (c *PostgresCatalog) Register(ctx context.Context, path, version, content string) (*models.CatalogEntry, error) {
	if path == "" || version == "" {
		return nil, fmt.Errorf("catalog: path and version are required")
	}
	if _, err := playbook.Parse([]byte(content)); err != nil {
		return nil, fmt.Errorf("catalog: parse playbook: %w", err)
	}

	payload, err := yamlToJSON(content)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal payload: %w", err)
	}

	entry := &models.CatalogEntry{
		ResourcePath:    path,
		ResourceVersion: version,
		ResourceType:    "playbook",
		Content:         content,
		Payload:         payload,
	}
	err = c.db.QueryRow(ctx, `
		INSERT INTO catalog (resource_path, resource_version, resource_type, content, payload, registered_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (resource_path, resource_version) DO NOTHING
		RETURNING registered_at
	`, path, version, entry.ResourceType, content, payload).Scan(&entry.RegisteredAt)
	if err == pgx.ErrNoRows {
		return nil, ErrAlreadyRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: register %s@%s: %w", path, version, err)
	}

	c.cache.invalidate(path)
	return entry, nil
}

func (c *PostgresCatalog) List(ctx context.Context, path string) ([]*models.CatalogEntry, error) {
	rows, err := c.db.Query(ctx, `
		SELECT resource_path, resource_version, resource_type, content, payload, meta, registered_at
		FROM catalog WHERE resource_path = $1
		ORDER BY registered_at DESC
	`, path)
	if err != nil {
		return nil, fmt.Errorf("catalog: list %s: %w", path, err)
	}
	defer rows.Close()

	var out []*models.CatalogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan %s: %w", path, err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Changelog computes the RFC 7396 JSON merge patch between two registered
// versions' payloads, using the only API surface the pack's materializer
// exercises for this library (DecodePatch/Apply is for applying a
// precomputed RFC 6902 patch chain; CreateMergePatch/MergePatch is the
// companion pair for producing and replaying a diff between two whole
// documents, which is what a changelog needs).
func (c *PostgresCatalog) Changelog(ctx context.Context, path, fromVersion, toVersion string) (json.RawMessage, error) {
	from, err := c.fetchEntry(ctx, path, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("changelog: load %s@%s: %w", path, fromVersion, err)
	}
	to, err := c.fetchEntry(ctx, path, toVersion)
	if err != nil {
		return nil, fmt.Errorf("changelog: load %s@%s: %w", path, toVersion, err)
	}

	patch, err := jsonpatch.CreateMergePatch(from.Payload, to.Payload)
	if err != nil {
		return nil, fmt.Errorf("changelog: create merge patch: %w", err)
	}
	return patch, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.CatalogEntry, error) {
	var e models.CatalogEntry
	err := row.Scan(&e.ResourcePath, &e.ResourceVersion, &e.ResourceType, &e.Content, &e.Payload, &e.Meta, &e.RegisteredAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func yamlToJSON(content string) (json.RawMessage, error) {
	var generic map[string]any
	if err := yaml.Unmarshal([]byte(content), &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
