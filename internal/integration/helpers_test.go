//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/pgmanager/internal/pool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startPostgres runs a disposable Postgres and returns its host and mapped
// port. The container is terminated on test cleanup.
func startPostgres(ctx context.Context, t *testing.T) (string, uint16) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	mapped, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)
	port, err := strconv.ParseUint(mapped.Port(), 10, 16)
	require.NoError(t, err)
	return host, uint16(port)
}

// poolConfig builds a config pointing at the given endpoint with tight,
// test-friendly timeouts.
func poolConfig(host string, port uint16) pool.Config {
	return pool.Config{
		Host:             host,
		Port:             port,
		Database:         "testdb",
		User:             "test",
		Password:         "test",
		MinConns:         1,
		MaxConns:         4,
		IdleTimeout:      30 * time.Second,
		ConnectTimeout:   5 * time.Second,
		StatementTimeout: 10 * time.Second,
		QueryTimeout:     10 * time.Second,
		KeepAlive:        true,
		KeepAliveDelay:   30 * time.Second,
	}
}

// newPool constructs a pool and registers its cleanup.
func newPool(ctx context.Context, t *testing.T, cfg pool.Config) *pool.Pool {
	t.Helper()
	p, err := pool.New(ctx, cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

// tableName returns a per-test table name so tests sharing a container do
// not collide.
func tableName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("t_%d", time.Now().UnixNano())
}
