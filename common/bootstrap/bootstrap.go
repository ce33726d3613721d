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

// Setup initializes all components shared by cmd/server, cmd/worker and
// cmd/broker: configuration, logging, the Postgres pool, and the optional
// render/liveness cache. It is the single construction point — nothing in
// the rest of the module reaches for a package-level global.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{cleanupFuncs: make([]func() error, 0)}

	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = dbx.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	if !options.skipRedis && components.Config.Cache.Backend == "redis" {
		components.Logger.Info("connecting to redis", "addr", components.Config.Cache.RedisAddr)
		rawClient := goredis.NewClient(&goredis.Options{Addr: components.Config.Cache.RedisAddr})
		if err := rawClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.Redis = noetlredis.NewClient(rawClient, components.Logger)

		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return rawClient.Close()
		})
	}

	if !options.skipCache && components.Config.Cache.Enabled {
		components.Logger.Info("initializing cache", "backend", components.Config.Cache.Backend)

		switch components.Config.Cache.Backend {
		case "redis":
			if components.Redis == nil {
				return nil, fmt.Errorf("cache backend \"redis\" requested but redis client was skipped")
			}
			components.Cache = cache.NewRedisCache(components.Redis)
		default:
			components.Cache = cache.NewMemoryCache(components.Logger)
			components.addCleanup(func() error {
				components.Logger.Info("closing cache")
				return components.Cache.Close()
			})
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"cache", components.Cache != nil,
		"redis", components.Redis != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error. Useful for short-lived
// binaries (migrations, one-off CLI commands) that can't recover from a
// failed bootstrap.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
