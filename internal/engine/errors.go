// internal/engine/errors.go
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenNotFound is returned for operations against a token the store
	// does not track.
	ErrTokenNotFound = errors.New("token not found")

	// ErrSlippageExceeded is returned when the output recomputed at execution
	// time falls below the caller's floor.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrLockTimeout is returned when a trade could not acquire its per-token
	// lock within the configured wait bound.
	ErrLockTimeout = errors.New("trade lock timeout")

	// ErrInconsistentState is returned when the locally cached reserve state
	// diverged from the on-chain account and has not been resynced.
	ErrInconsistentState = errors.New("state inconsistent with chain")
)

// SlippageError carries the recomputed output and the floor it violated.
type SlippageError struct {
	Expected uint64
	Minimum  uint64
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("output %d below minimum %d: %s", e.Expected, e.Minimum, ErrSlippageExceeded)
}

func (e *SlippageError) Unwrap() error {
	return ErrSlippageExceeded
}

// InconsistencyError identifies the first field found diverged between the
// local state and the chain account. Boolean fields are reported as 0/1.
type InconsistencyError struct {
	TokenID string
	Field   string
	Local   uint64
	Chain   uint64
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("token %s: %s diverged (local %d, chain %d): %s",
		e.TokenID, e.Field, e.Local, e.Chain, ErrInconsistentState)
}

func (e *InconsistencyError) Unwrap() error {
	return ErrInconsistentState
}
