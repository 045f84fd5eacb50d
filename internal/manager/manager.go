// Package manager routes database traffic between a required primary pool
// and an optional read replica pool, supervises pool health on a fixed
// interval, and owns the initialize → serve → close lifecycle of both pools.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/pgmanager/internal/observability"
	"github.com/couchcryptid/pgmanager/internal/pool"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	labelPrimary = "primary"
	labelRead    = "read"

	defaultHealthInterval = 30 * time.Second
	defaultProbeTimeout   = 5 * time.Second
)

// connPool is the subset of pool.Pool the manager needs. Narrow so tests can
// fake the pools without a live database.
type connPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Stat() pool.Stats
	Close()
}

// Manager is safe for concurrent use; each call blocks only itself while
// waiting for a pool connection.
type Manager struct {
	primary connPool
	read    connPool // nil when no replica is configured
	logger  *slog.Logger
	metrics *observability.Metrics

	healthInterval time.Duration
	probeTimeout   time.Duration

	mu           sync.RWMutex
	state        State
	cancelHealth context.CancelFunc
	wg           sync.WaitGroup
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithHealthCheckInterval overrides the 30s default between health ticks.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.healthInterval = d }
}

// WithProbeTimeout overrides the 5s bound on a single liveness probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.probeTimeout = d }
}

// New creates a manager over the given pools. read may be nil, in which case
// read-only traffic is served by the primary. The manager is an explicit
// instance; construct one at startup and pass it to consumers.
func New(primary, read *pool.Pool, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Manager {
	var ro connPool
	if read != nil {
		ro = read
	}
	return newManager(primary, ro, logger, metrics, opts...)
}

func newManager(primary, read connPool, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Manager {
	m := &Manager{
		primary:        primary,
		read:           read,
		logger:         logger,
		metrics:        metrics,
		healthInterval: defaultHealthInterval,
		probeTimeout:   defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize probes the primary and, when configured, the read pool, then
// starts the recurring health check and moves the manager to ready. A failed
// primary probe is fatal; a failed read probe is logged as a warning and
// initialization continues (reads degrade to primary capacity until the
// replica recovers). Calling Initialize on a ready manager is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateUninitialized:
		m.state = StateInitializing
		m.mu.Unlock()
	default:
		err := &StateError{Op: "initialize", State: m.state}
		m.mu.Unlock()
		return err
	}

	if err := m.probe(ctx, m.primary); err != nil {
		m.abortInitialize()
		return fmt.Errorf("%w: %v", ErrPrimaryUnavailable, err)
	}
	if m.read != nil {
		if err := m.probe(ctx, m.read); err != nil {
			m.logger.Warn("read replica probe failed, reads will be served by primary capacity until it recovers", "error", err)
		}
	}

	// Close may have run while the probes were in flight; it already closed
	// the pools, so only a manager still initializing may become ready.
	hctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.state != StateInitializing {
		err := &StateError{Op: "initialize", State: m.state}
		m.mu.Unlock()
		cancel()
		return err
	}
	m.cancelHealth = cancel
	m.state = StateReady
	m.mu.Unlock()

	m.wg.Add(1)
	go m.healthLoop(hctx)

	m.logger.Info("pool manager initialized",
		"read_replica", m.read != nil,
		"health_interval", m.healthInterval)
	return nil
}

// probe is a minimal bounded round trip.
func (m *Manager) probe(ctx context.Context, p connPool) error {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	var one int
	return p.QueryRow(pctx, "SELECT 1").Scan(&one)
}

// Query executes a statement against the primary and returns its rows. The
// caller must close the rows. The underlying driver error is wrapped, never
// retried; retry policy belongs to the caller.
func (m *Manager) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := m.ready("query"); err != nil {
		return nil, err
	}
	defer m.observe("query", labelPrimary, time.Now())
	return m.primary.Query(ctx, sql, args...)
}

// QueryRow executes a single-row statement against the primary.
func (m *Manager) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := m.ready("query"); err != nil {
		return errRow{err: err}
	}
	defer m.observe("query_row", labelPrimary, time.Now())
	return m.primary.QueryRow(ctx, sql, args...)
}

// Exec executes a statement with no result rows against the primary.
func (m *Manager) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := m.ready("exec"); err != nil {
		return pgconn.CommandTag{}, err
	}
	defer m.observe("exec", labelPrimary, time.Now())
	return m.primary.Exec(ctx, sql, args...)
}

// QueryRead executes a read-only statement. It routes to the read pool
// whenever one is configured, regardless of the replica's last observed
// health: health checks report, they do not reroute. Callers that want
// failover on an unhealthy replica should consult HealthCheck and use Query.
func (m *Manager) QueryRead(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := m.ready("query"); err != nil {
		return nil, err
	}
	p, label := m.readRoute()
	defer m.observe("query", label, time.Now())
	return p.Query(ctx, sql, args...)
}

// QueryRowRead is QueryRow with read-replica routing.
func (m *Manager) QueryRowRead(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := m.ready("query"); err != nil {
		return errRow{err: err}
	}
	p, label := m.readRoute()
	defer m.observe("query_row", label, time.Now())
	return p.QueryRow(ctx, sql, args...)
}

func (m *Manager) readRoute() (connPool, string) {
	if m.read != nil {
		return m.read, labelRead
	}
	return m.primary, labelPrimary
}

type txKey struct{}

// Transaction runs fn inside a transaction on the primary; replicas may lag,
// so they never serve transactions. The transaction commits when fn returns
// nil and rolls back when fn or the commit fails, in which case the original
// error is returned wrapped. The connection is released exactly once on
// every path. Calling Transaction from inside fn fails fast with
// ErrNestedTransaction.
func (m *Manager) Transaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if err := m.ready("transaction"); err != nil {
		return err
	}
	if ctx.Value(txKey{}) != nil {
		return ErrNestedTransaction
	}
	defer m.observe("transaction", labelPrimary, time.Now())

	tx, err := m.primary.Begin(ctx)
	if err != nil {
		m.metrics.DBTransactionsTotal.WithLabelValues("begin_error").Inc()
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, struct{}{})
	if err := fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.logger.Error("rollback after callback failure", "error", rbErr)
		}
		m.metrics.DBTransactionsTotal.WithLabelValues("rolled_back").Inc()
		return fmt.Errorf("transaction rolled back: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		// Commit failure leaves the server-side transaction aborted; the
		// rollback below is a best effort against an already-closed tx.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.logger.Error("rollback after commit failure", "error", rbErr)
		}
		m.metrics.DBTransactionsTotal.WithLabelValues("commit_error").Inc()
		return fmt.Errorf("commit transaction: %w", err)
	}

	m.metrics.DBTransactionsTotal.WithLabelValues("committed").Inc()
	return nil
}

// Stats holds live per-pool connection counts. Read is nil when no replica
// is configured.
type Stats struct {
	Primary pool.Stats  `json:"primary"`
	Read    *pool.Stats `json:"read,omitempty"`
}

// Stats returns current connection counts for each configured pool. It is a
// pure read of in-memory counters and always succeeds, in any state.
func (m *Manager) Stats() Stats {
	s := Stats{Primary: m.primary.Stat()}
	if m.read != nil {
		rs := m.read.Stat()
		s.Read = &rs
	}
	return s
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CheckReadiness implements observability.ReadinessChecker: ready state plus
// a primary round trip.
func (m *Manager) CheckReadiness(ctx context.Context) error {
	if err := m.ready("readiness"); err != nil {
		return err
	}
	return m.primary.Ping(ctx)
}

// Close stops the health-check loop, then closes the primary and the read
// pool. Pools drain gracefully: released connections are closed, in-flight
// queries are not cancelled. Stop accepting new work before calling Close.
// Closing a closed manager is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosing || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosing
	cancel := m.cancelHealth
	m.cancelHealth = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.primary.Close()
	if m.read != nil {
		m.read.Close()
	}

	m.setState(StateClosed)
	m.logger.Info("pool manager closed")
}

func (m *Manager) ready(op string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return &StateError{Op: op, State: m.state}
	}
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// abortInitialize reverts a failed initialization so it can be retried,
// unless Close already took the state over.
func (m *Manager) abortInitialize() {
	m.mu.Lock()
	if m.state == StateInitializing {
		m.state = StateUninitialized
	}
	m.mu.Unlock()
}

func (m *Manager) observe(op, poolLabel string, start time.Time) {
	m.metrics.DBQueryDuration.WithLabelValues(poolLabel, op).Observe(time.Since(start).Seconds())
}

// errRow defers a routing failure to Scan, matching pgx.Row semantics.
type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
