package dbx

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noetl/noetl/common/config"
	"github.com/noetl/noetl/common/logger"
)

// DB wraps pgxpool with the pool lifecycle every NoETL process needs.
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New creates a new database connection pool using the application role.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	return newPool(ctx, cfg.DatabaseURL(), cfg, log)
}

// NewAdmin creates a connection pool using the admin role, for schema bootstrap.
func NewAdmin(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	return newPool(ctx, cfg.AdminDatabaseURL(), cfg, log)
}

func newPool(ctx context.Context, dsn string, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected", "host", cfg.Database.Host, "db", cfg.Database.Database)

	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.log.Info("closing database connection pool")
	db.Pool.Close()
}

// Health checks database reachability.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}
