package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, uint16(5432), cfg.DBPort)
	assert.Equal(t, int32(2), cfg.PoolMin)
	assert.Equal(t, int32(10), cfg.PoolMax)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.StatementTimeout)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.False(t, cfg.SSL)
	assert.True(t, cfg.KeepAlive)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)

	assert.False(t, cfg.HasReadReplica())
	assert.Nil(t, cfg.ReadPool())
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_NAME", "orders")
	t.Setenv("DB_USER", "svc")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("POOL_MIN", "5")
	t.Setenv("POOL_MAX", "50")
	t.Setenv("READ_REPLICA_HOST", "replica.internal")
	t.Setenv("READ_REPLICA_PORT", "5434")
	t.Setenv("CONNECT_TIMEOUT", "2s")
	t.Setenv("DB_SSL", "true")
	t.Setenv("HEALTH_CHECK_INTERVAL", "15s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.Equal(t, uint16(5433), cfg.DBPort)
	assert.Equal(t, int32(5), cfg.PoolMin)
	assert.Equal(t, int32(50), cfg.PoolMax)
	assert.True(t, cfg.SSL)
	assert.Equal(t, 15*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)

	require.True(t, cfg.HasReadReplica())
	rp := cfg.ReadPool()
	require.NotNil(t, rp)
	assert.Equal(t, "replica.internal", rp.Host)
	assert.Equal(t, uint16(5434), rp.Port)
	assert.Equal(t, "orders", rp.Database)
	assert.Equal(t, "svc", rp.User)
	assert.Equal(t, int32(50), rp.MaxConns)

	pp := cfg.PrimaryPool()
	assert.Equal(t, "db.internal", pp.Host)
	assert.Equal(t, 2*time.Second, pp.ConnectTimeout)
}

func TestLoad_PoolMinExceedsMax(t *testing.T) {
	t.Setenv("POOL_MIN", "20")
	t.Setenv("POOL_MAX", "10")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POOL_MIN")
}

func TestLoad_InvalidConnectTimeout(t *testing.T) {
	t.Setenv("CONNECT_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONNECT_TIMEOUT")
}

func TestLoad_NegativeIdleTimeout(t *testing.T) {
	t.Setenv("IDLE_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDLE_TIMEOUT")
}

func TestLoad_InvalidPoolMax(t *testing.T) {
	t.Setenv("POOL_MAX", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POOL_MAX")
}

func TestLoad_InvalidSSL(t *testing.T) {
	t.Setenv("DB_SSL", "maybe")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_SSL")
}

func TestLoad_InvalidReplicaPort(t *testing.T) {
	t.Setenv("READ_REPLICA_PORT", "70000")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READ_REPLICA_PORT")
}
