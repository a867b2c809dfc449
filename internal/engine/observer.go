package engine

import (
	"fmt"

	"github.com/shaunagostinho/caramat/internal/controller"
)

// Status messages emitted to observers.
const (
	StatusAutotuneProgress = "Autotune in progress"
	StatusAutotuneComplete = "Autotune complete"
	StatusAutotuneFailed   = "Autotune failed"
	StatusCycleCompleted   = "Cycle mode completed"
	StatusConnectionLost   = "Connection lost"
	StatusConnectionBack   = "Connection restored"
)

// CycleStatus is the progress message emitted after each completed cycle.
func CycleStatus(n uint) string {
	return fmt.Sprintf("Cycle number: %d", n)
}

// Snapshot is a value copy of engine state published after every tick.
type Snapshot struct {
	Reading   controller.SensorReading `json:"reading"`
	Gains     controller.GainTriple    `json:"gains"`
	Autotune  AutotuneState            `json:"autotune"`
	Procedure Procedure                `json:"procedure"`
	Cycle     CycleRun                 `json:"cycle"`
	Running   bool                     `json:"running"`
	Connected bool                     `json:"connected"`
}

// Observer receives engine output. Calls are made from the engine worker
// while it holds the transport, so implementations must not block.
type Observer interface {
	// Status receives human-readable progress strings.
	Status(msg string)
	// Snapshot receives the engine state after each tick.
	Snapshot(s Snapshot)
	// Fault receives the error that aborted a tick.
	Fault(err error)
}

type nopObserver struct{}

func (nopObserver) Status(string)     {}
func (nopObserver) Snapshot(Snapshot) {}
func (nopObserver) Fault(error)       {}
