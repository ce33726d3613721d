package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration, loaded once at process startup.
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Runtime  RuntimeConfig
	Worker   WorkerConfig
	Broker   BrokerConfig
}

// ServiceConfig holds process-wide settings shared by server, worker and broker.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	Schema      string
	User        string
	Password    string
	AdminUser   string
	AdminPass   string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// CacheConfig holds render-cache / liveness-cache settings.
type CacheConfig struct {
	Enabled    bool
	Backend    string // "memory" or "redis"
	RedisAddr  string
	DefaultTTL time.Duration
}

// RuntimeConfig controls the Runtime Registry's self-registration and sweeper.
type RuntimeConfig struct {
	ServerURL      string
	ServerName     string
	SweepInterval  time.Duration
	OfflineSeconds int
}

// WorkerConfig controls the worker pool's lease loop.
type WorkerConfig struct {
	PoolName       string
	LeaseSeconds   int
	MaxAttempts    int
	PollInterval   time.Duration
	MaxPollBackoff time.Duration
}

// BrokerConfig controls the broker evaluation loop.
type BrokerConfig struct {
	TriggerQueueKey  string
	SweepInterval    time.Duration
	InFlightCapacity int
}

// Load loads configuration from environment variables, applying the same
// defaults-then-validate pattern across every NoETL process.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "noetl"),
			Schema:      getEnv("NOETL_SCHEMA", "noetl"),
			User:        getEnv("NOETL_USER", "noetl"),
			Password:    getEnv("NOETL_PASSWORD", "noetl"),
			AdminUser:   getEnv("POSTGRES_ADMIN_USER", "postgres"),
			AdminPass:   getEnv("POSTGRES_ADMIN_PASSWORD", "postgres"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 5),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			Backend:    getEnv("CACHE_BACKEND", "memory"),
			RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 10*time.Minute),
		},
		Runtime: RuntimeConfig{
			ServerURL:      getEnv("NOETL_SERVER_URL", "http://localhost:8080"),
			ServerName:     getEnv("NOETL_SERVER_NAME", serviceName),
			SweepInterval:  getEnvDuration("NOETL_RUNTIME_SWEEP_INTERVAL", 30*time.Second),
			OfflineSeconds: getEnvInt("NOETL_RUNTIME_OFFLINE_SECONDS", 90),
		},
		Worker: WorkerConfig{
			PoolName:       getEnv("NOETL_WORKER_POOL_NAME", "default"),
			LeaseSeconds:   getEnvInt("NOETL_WORKER_LEASE_SECONDS", 60),
			MaxAttempts:    getEnvInt("NOETL_WORKER_MAX_ATTEMPTS", 3),
			PollInterval:   getEnvDuration("NOETL_WORKER_POLL_INTERVAL", 1*time.Second),
			MaxPollBackoff: getEnvDuration("NOETL_WORKER_MAX_POLL_BACKOFF", 10*time.Second),
		},
		Broker: BrokerConfig{
			TriggerQueueKey:  getEnv("NOETL_BROKER_TRIGGER_KEY", "noetl:broker:triggers"),
			SweepInterval:    getEnvDuration("NOETL_BROKER_SWEEP_INTERVAL", 5*time.Second),
			InFlightCapacity: getEnvInt("NOETL_BROKER_INFLIGHT_CAPACITY", 1024),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}
	if c.Database.Schema == "" {
		return fmt.Errorf("NOETL_SCHEMA is required")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string for the application role.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Schema,
	)
}

// AdminDatabaseURL returns the PostgreSQL connection string for schema bootstrap.
func (c *Config) AdminDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.AdminUser,
		c.Database.AdminPass,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
