package engine

import (
	"errors"
	"fmt"
)

// StateError rejects an intent that is invalid in the engine's current state,
// e.g. starting a cycle run while autotune is active. It is returned
// synchronously and never reaches the poll loop.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("engine: %s: %s", e.Op, e.Reason)
}

// IsStateError reports whether err is, or wraps, a StateError.
func IsStateError(err error) bool {
	var sErr *StateError
	return errors.As(err, &sErr)
}

// ErrInvalidCycleConfig is wrapped by every cycle configuration validation
// failure.
var ErrInvalidCycleConfig = errors.New("invalid cycle config")
