package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/pgmanager/internal/pool"
)

// Config holds application settings loaded from environment variables.
// There is no production/development mode detection: deployments supply
// their own values and the defaults here suit local development.
type Config struct {
	Port            string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DBHost     string
	DBPort     uint16
	DBName     string
	DBUser     string
	DBPassword string

	PoolMin int32
	PoolMax int32

	ReadReplicaHost string
	ReadReplicaPort uint16

	IdleTimeout      time.Duration
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
	QueryTimeout     time.Duration

	SSL            bool
	KeepAlive      bool
	KeepAliveDelay time.Duration

	HealthCheckInterval time.Duration
}

// Load reads configuration from environment variables and returns it,
// or an error naming the offending variable.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            envOrDefault("PORT", "8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		DBHost:          envOrDefault("DB_HOST", "localhost"),
		DBName:          envOrDefault("DB_NAME", "postgres"),
		DBUser:          envOrDefault("DB_USER", "postgres"),
		DBPassword:      os.Getenv("DB_PASSWORD"),
		ReadReplicaHost: os.Getenv("READ_REPLICA_HOST"),
	}

	var err error
	if cfg.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = parsePort("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.ReadReplicaPort, err = parsePort("READ_REPLICA_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.PoolMin, err = parseInt32("POOL_MIN", 2); err != nil {
		return nil, err
	}
	if cfg.PoolMax, err = parseInt32("POOL_MAX", 10); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = parseDuration("IDLE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout, err = parseDuration("CONNECT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatementTimeout, err = parseDuration("STATEMENT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout, err = parseDuration("QUERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SSL, err = parseBool("DB_SSL", false); err != nil {
		return nil, err
	}
	if cfg.KeepAlive, err = parseBool("DB_KEEPALIVE", true); err != nil {
		return nil, err
	}
	if cfg.KeepAliveDelay, err = parseDuration("DB_KEEPALIVE_DELAY", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HealthCheckInterval, err = parseDuration("HEALTH_CHECK_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.PoolMin > cfg.PoolMax {
		return nil, fmt.Errorf("POOL_MIN %d must not exceed POOL_MAX %d", cfg.PoolMin, cfg.PoolMax)
	}

	return cfg, nil
}

// HasReadReplica reports whether a read pool should be constructed; the
// presence of READ_REPLICA_HOST is what decides it.
func (c *Config) HasReadReplica() bool {
	return c.ReadReplicaHost != ""
}

// PrimaryPool builds the pool configuration for the primary endpoint.
func (c *Config) PrimaryPool() pool.Config {
	return c.poolConfig(c.DBHost, c.DBPort)
}

// ReadPool builds the pool configuration for the read replica, or nil when
// none is configured. The replica shares the primary's credentials and
// sizing.
func (c *Config) ReadPool() *pool.Config {
	if !c.HasReadReplica() {
		return nil
	}
	pc := c.poolConfig(c.ReadReplicaHost, c.ReadReplicaPort)
	return &pc
}

func (c *Config) poolConfig(host string, port uint16) pool.Config {
	return pool.Config{
		Host:             host,
		Port:             port,
		Database:         c.DBName,
		User:             c.DBUser,
		Password:         c.DBPassword,
		MinConns:         c.PoolMin,
		MaxConns:         c.PoolMax,
		IdleTimeout:      c.IdleTimeout,
		ConnectTimeout:   c.ConnectTimeout,
		StatementTimeout: c.StatementTimeout,
		QueryTimeout:     c.QueryTimeout,
		SSL:              c.SSL,
		KeepAlive:        c.KeepAlive,
		KeepAliveDelay:   c.KeepAliveDelay,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive, got %s", key, d)
	}
	return d, nil
}

func parseInt32(key string, def int32) (int32, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %d", key, n)
	}
	return int32(n), nil
}

func parsePort(key string, def uint16) (uint16, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid port %q: %w", key, v, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: port must be nonzero", key)
	}
	return uint16(n), nil
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}
