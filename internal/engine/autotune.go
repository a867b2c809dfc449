package engine

import (
	"fmt"

	"github.com/shaunagostinho/caramat/internal/controller"
)

// AutotuneState is the position of the autotune procedure.
type AutotuneState int

const (
	AutotuneIdle AutotuneState = iota
	AutotuneRequested
	AutotuneRunning
	AutotuneComplete
	AutotuneFailed
)

func (s AutotuneState) String() string {
	switch s {
	case AutotuneIdle:
		return "idle"
	case AutotuneRequested:
		return "requested"
	case AutotuneRunning:
		return "running"
	case AutotuneComplete:
		return "complete"
	case AutotuneFailed:
		return "failed"
	}
	return "unknown"
}

func (s AutotuneState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *AutotuneState) UnmarshalText(b []byte) error {
	for v := AutotuneIdle; v <= AutotuneFailed; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown autotune state %q", b)
}

// Autotune tracks the device-side autotune procedure. Only the engine tick
// drives it.
type Autotune struct {
	state AutotuneState
}

func (a *Autotune) State() AutotuneState { return a.state }

// Request moves Idle to Requested. It reports false in any other state.
func (a *Autotune) Request() bool {
	if a.state != AutotuneIdle {
		return false
	}
	a.state = AutotuneRequested
	return true
}

// Started records the outcome of the start command. An unacknowledged start
// stays Requested so the next tick retries it.
func (a *Autotune) Started(acked bool) {
	if a.state == AutotuneRequested && acked {
		a.state = AutotuneRunning
	}
}

// Observe interprets the status register while Running. Bit 11 takes
// precedence over bit 12 when both are set.
func (a *Autotune) Observe(bits int) AutotuneState {
	if a.state != AutotuneRunning {
		return a.state
	}
	switch {
	case bits&controller.StatusAutotuneDone != 0:
		a.state = AutotuneComplete
	case bits&controller.StatusAutotuneFailed != 0:
		a.state = AutotuneFailed
	}
	return a.state
}

// Reset returns the machine to Idle.
func (a *Autotune) Reset() { a.state = AutotuneIdle }
