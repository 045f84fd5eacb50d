// Package pool manages a bounded set of reusable PostgreSQL connections to a
// single endpoint, built on pgxpool. It adds checkout-timeout classification,
// a live waiting-caller gauge, and scoped acquire/release wrappers so no code
// path can leak a connection.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgxpool.Pool bound to one Config. Connections open lazily up
// to MinConns and grow to MaxConns under load; idle connections past
// IdleTimeout are reaped by pgxpool's background health check.
type Pool struct {
	pgx     *pgxpool.Pool
	cfg     Config
	logger  *slog.Logger
	waiting atomic.Int64
	closed  atomic.Bool
}

// New validates cfg and constructs a pool. No connection is dialed yet;
// the first checkout establishes connections on demand.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pc, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConns = cfg.MaxConns
	pc.MaxConnIdleTime = cfg.IdleTimeout
	pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	if cfg.KeepAlive {
		dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: cfg.KeepAliveDelay}
		pc.ConnConfig.DialFunc = dialer.DialContext
	}

	// Every new physical connection gets the statement timeout as a session
	// setting before it is handed to any caller.
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", cfg.StatementTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set statement_timeout: %w", err)
		}
		logger.Debug("connection established", "endpoint", cfg.Endpoint(), "database", cfg.Database)
		return nil
	}

	p, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	logger.Info("pool created",
		"endpoint", cfg.Endpoint(),
		"database", cfg.Database,
		"min_conns", cfg.MinConns,
		"max_conns", cfg.MaxConns,
		"ssl", cfg.SSL)

	return &Pool{pgx: p, cfg: cfg, logger: logger}, nil
}

// Acquire checks out a connection, blocking up to the configured connect
// timeout when the pool is at MaxConns and every connection is busy. The
// caller must Release the returned connection.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	p.waiting.Add(1)
	conn, err := p.pgx.Acquire(acquireCtx)
	p.waiting.Add(-1)
	if err != nil {
		return nil, classifyAcquire(ctx, err)
	}
	return conn, nil
}

// Query checks out a connection, runs sql under the query timeout, and
// returns rows that release the connection when closed. Callers must close
// the rows; failing to do so pins a connection until the caller's context
// ends.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	rows, err := conn.Query(qctx, sql, args...)
	if err != nil {
		cancel()
		conn.Release()
		return nil, fmt.Errorf("query: %w", err)
	}
	return &poolRows{Rows: rows, conn: conn, cancel: cancel}, nil
}

// QueryRow checks out a connection and returns a row whose Scan releases it.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return errRow{err: err}
	}
	qctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	return &poolRow{row: conn.QueryRow(qctx, sql, args...), conn: conn, cancel: cancel}
}

// Exec runs a statement that returns no rows. The connection is released
// before Exec returns, on success and on error alike.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer conn.Release()

	qctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	tag, err := conn.Exec(qctx, sql, args...)
	if err != nil {
		return tag, fmt.Errorf("exec: %w", err)
	}
	return tag, nil
}

// Begin checks out a connection and opens a transaction on it. The returned
// Tx releases the connection exactly once, on Commit or Rollback, whichever
// comes first.
func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &poolTx{Tx: tx, conn: conn}, nil
}

// Ping verifies connectivity with a round trip.
func (p *Pool) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.pgx.Ping(ctx)
}

// Stats is a live snapshot of connection counts; it is read from the pool on
// every call, never cached.
type Stats struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	InUse    int32 `json:"in_use"`
	Waiting  int32 `json:"waiting"`
	MaxConns int32 `json:"max_conns"`
}

// Stat returns current connection counts. Waiting is the number of callers
// blocked in Acquire right now.
func (p *Pool) Stat() Stats {
	s := p.pgx.Stat()
	return Stats{
		Total:    s.TotalConns(),
		Idle:     s.IdleConns(),
		InUse:    s.AcquiredConns(),
		Waiting:  int32(p.waiting.Load()),
		MaxConns: s.MaxConns(),
	}
}

// Config returns the pool's immutable configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// Close drains the pool: it waits for checked-out connections to be released
// and then closes them. In-flight queries are not cancelled; stop accepting
// new work before calling Close. Closing twice is a no-op.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.logger.Info("closing pool", "endpoint", p.cfg.Endpoint(), "database", p.cfg.Database)
	p.pgx.Close()
}

type poolRows struct {
	pgx.Rows
	conn     *pgxpool.Conn
	cancel   context.CancelFunc
	released bool
}

func (r *poolRows) Close() {
	r.Rows.Close()
	if !r.released {
		r.released = true
		r.cancel()
		r.conn.Release()
	}
}

type poolRow struct {
	row    pgx.Row
	conn   *pgxpool.Conn
	cancel context.CancelFunc
}

func (r *poolRow) Scan(dest ...any) error {
	defer r.conn.Release()
	defer r.cancel()
	return r.row.Scan(dest...)
}

// errRow defers an acquire failure to Scan, matching pgx.Row semantics.
type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type poolTx struct {
	pgx.Tx
	conn     *pgxpool.Conn
	released atomic.Bool
}

func (t *poolTx) Commit(ctx context.Context) error {
	defer t.release()
	return t.Tx.Commit(ctx)
}

func (t *poolTx) Rollback(ctx context.Context) error {
	defer t.release()
	return t.Tx.Rollback(ctx)
}

func (t *poolTx) release() {
	if t.released.CompareAndSwap(false, true) {
		t.conn.Release()
	}
}
