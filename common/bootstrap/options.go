package bootstrap

import (
	"github.com/noetl/noetl/common/config"
	"github.com/noetl/noetl/common/dbx"
	"github.com/noetl/noetl/common/logger"
)

// Option configures the bootstrap process.
type Option func(*options)

type options struct {
	skipDB       bool
	skipCache    bool
	skipRedis    bool
	customLogger *logger.Logger
	customConfig *config.Config
	dbInitHook   func(*dbx.DB) error
}

// WithoutDB skips database initialization (e.g. for pure-rendering unit tests).
func WithoutDB() Option {
	return func(o *options) { o.skipDB = true }
}

// WithoutCache skips cache initialization.
func WithoutCache() Option {
	return func(o *options) { o.skipCache = true }
}

// WithoutRedis skips the Redis client and with it the Redis-backed render
// cache; the memory cache remains fully correct without it.
func WithoutRedis() Option {
	return func(o *options) { o.skipRedis = true }
}

// WithCustomLogger injects a logger instead of constructing one from config.
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig injects configuration instead of loading it from the environment.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithDBInitHook runs a function after the database pool is ready. None of
// the cmd/ binaries sets one; cmd/server applies its schema through its own
// admin connection before bootstrap.Setup.
func WithDBInitHook(hook func(*dbx.DB) error) Option {
	return func(o *options) { o.dbInitHook = hook }
}

func defaultOptions() *options {
	return &options{}
}
