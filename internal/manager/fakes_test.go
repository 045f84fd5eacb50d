package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/pgmanager/internal/pool"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scanFunc adapts a function to pgx.Row.
type scanFunc func(dest ...any) error

func (s scanFunc) Scan(dest ...any) error { return s(dest...) }

// fakePool implements connPool without a live database. probeErr and
// probeDelay may be mutated mid-test while the health loop reads them, so
// they are guarded by mu.
type fakePool struct {
	mu         sync.Mutex
	queries    []string
	txs        []*fakeTx
	probeErr   error
	probeDelay time.Duration

	probes atomic.Int32

	queryErr error
	execErr  error
	beginErr error
	stats    pool.Stats
	closes   atomic.Int32
}

func (f *fakePool) setProbeErr(err error) {
	f.mu.Lock()
	f.probeErr = err
	f.mu.Unlock()
}

func (f *fakePool) setProbeDelay(d time.Duration) {
	f.mu.Lock()
	f.probeDelay = d
	f.mu.Unlock()
}

func (f *fakePool) probeState() (error, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr, f.probeDelay
}

func (f *fakePool) record(sql string) {
	f.mu.Lock()
	f.queries = append(f.queries, sql)
	f.mu.Unlock()
}

func (f *fakePool) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

func (f *fakePool) Ping(_ context.Context) error {
	err, _ := f.probeState()
	return err
}

func (f *fakePool) QueryRow(ctx context.Context, sql string, _ ...any) pgx.Row {
	f.record(sql)
	f.probes.Add(1)
	return scanFunc(func(_ ...any) error {
		err, delay := f.probeState()
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	})
}

func (f *fakePool) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.record(sql)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{}, nil
}

func (f *fakePool) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.record(sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakePool) Begin(_ context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	tx := &fakeTx{}
	f.mu.Lock()
	f.txs = append(f.txs, tx)
	f.mu.Unlock()
	return tx, nil
}

func (f *fakePool) Stat() pool.Stats { return f.stats }

func (f *fakePool) Close() { f.closes.Add(1) }

// fakeRows is an empty result set.
type fakeRows struct{ closed bool }

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { return false }
func (r *fakeRows) Scan(_ ...any) error                          { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

// fakeTx mirrors poolTx semantics: the connection is released exactly once,
// by whichever of Commit or Rollback runs first; later calls see ErrTxClosed.
type fakeTx struct {
	mu        sync.Mutex
	done      bool
	releases  int
	commits   int
	rollbacks int
	commitErr error
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.releases++
	t.commits++
	return t.commitErr
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.releases++
	t.rollbacks++
	return nil
}

func (t *fakeTx) snapshot() (releases, commits, rollbacks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.releases, t.commits, t.rollbacks
}

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) {
	return nil, errors.New("not supported")
}

func (t *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not supported")
}

func (t *fakeTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not supported")
}

func (t *fakeTx) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return &fakeRows{}, nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return scanFunc(func(_ ...any) error { return nil })
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }
