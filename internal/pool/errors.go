package pool

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConnectTimeout means no connection became available within the
	// configured connect timeout (pool exhausted or endpoint too slow).
	ErrConnectTimeout = errors.New("connection timeout")

	// ErrConnectionRefused means the endpoint actively rejected the dial.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrAuthFailed means the endpoint rejected the supplied credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrClosed is returned for any operation on a closed pool.
	ErrClosed = errors.New("pool is closed")
)

// SQLSTATE classes 28000 (invalid_authorization_specification) and
// 28P01 (invalid_password).
const sqlstateAuthClass = "28"

// classifyAcquire maps a checkout failure onto the pool error taxonomy.
// A cancellation that came from the caller's own context is passed through
// untouched so callers can distinguish their cancellation from pool
// exhaustion.
func classifyAcquire(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrConnectTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == sqlstateAuthClass {
		return fmt.Errorf("%w: %s", ErrAuthFailed, pgErr.Message)
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrConnectionRefused, netErr)
	}

	return err
}
