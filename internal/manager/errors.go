package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrPrimaryUnavailable is returned by Initialize when the primary
	// liveness probe fails. The manager must not be used afterwards.
	ErrPrimaryUnavailable = errors.New("primary database unavailable")

	// ErrInvalidState is wrapped by every StateError; use errors.Is to
	// detect operations attempted outside the ready state.
	ErrInvalidState = errors.New("manager not ready")

	// ErrNestedTransaction is returned when Transaction is called from
	// inside a transaction callback.
	ErrNestedTransaction = errors.New("nested transaction not supported")
)

// StateError reports an operation attempted while the manager was not in the
// state that accepts it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: manager is %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
