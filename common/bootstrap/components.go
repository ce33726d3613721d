package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/noetl/noetl/common/cache"
	"github.com/noetl/noetl/common/config"
	"github.com/noetl/noetl/common/dbx"
	"github.com/noetl/noetl/common/logger"
	noetlredis "github.com/noetl/noetl/common/redis"
)

// Components holds every dependency a NoETL process needs, constructed once
// at startup and passed down explicitly — there is no package-level global
// holding any of these.
type Components struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *dbx.DB
	Cache  cache.Cache
	Redis  *noetlredis.Client

	cleanupFuncs []func() error
}

// Shutdown runs every registered cleanup function in LIFO order, collecting
// (not short-circuiting on) errors. Call with defer right after Setup.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	c.Logger.Info("shutdown complete")
	return nil
}

// Health reports whether the process's durable dependencies are reachable.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.redisClient() != nil {
		if err := c.redisClient().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) redisClient() *goredis.Client {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.GetUnderlying()
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
