package engine

import (
	"fmt"
	"log"

	"github.com/shaunagostinho/caramat/internal/controller"
)

// Procedure tags which device procedure currently owns the controller.
// Autotune and cycling are mutually exclusive.
type Procedure int

const (
	ProcedureNone Procedure = iota
	ProcedureAutotune
	ProcedureCycling
)

func (p Procedure) String() string {
	switch p {
	case ProcedureNone:
		return "none"
	case ProcedureAutotune:
		return "autotune"
	case ProcedureCycling:
		return "cycling"
	}
	return "unknown"
}

func (p Procedure) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Procedure) UnmarshalText(b []byte) error {
	for v := ProcedureNone; v <= ProcedureCycling; v++ {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown procedure %q", b)
}

// flags are the caller-to-engine handoff. Each request is set by an intent
// method and cleared only by the tick that acted on it.
type flags struct {
	active     Procedure
	autotune   bool
	cycle      *CycleConfig
	gainReload bool
	gains      *controller.GainTriple
}

// RequestAutotune asks the next tick to start an autotune. It is rejected
// while any procedure is active.
func (e *Engine) RequestAutotune() error {
	e.mu.Lock()
	switch e.flags.active {
	case ProcedureAutotune:
		e.mu.Unlock()
		return &StateError{Op: "autotune", Reason: "autotune already active"}
	case ProcedureCycling:
		e.mu.Unlock()
		return &StateError{Op: "autotune", Reason: "cycle run in progress"}
	}
	e.flags.active = ProcedureAutotune
	e.flags.autotune = true
	e.mu.Unlock()

	log.Printf("[engine] autotune requested")
	e.Activate()
	return nil
}

// RequestCycle validates cfg and asks the next tick to begin a cycling run.
// It is rejected while any procedure is active.
func (e *Engine) RequestCycle(cfg CycleConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	e.mu.Lock()
	switch e.flags.active {
	case ProcedureCycling:
		e.mu.Unlock()
		return &StateError{Op: "cycle", Reason: "cycle run already active"}
	case ProcedureAutotune:
		e.mu.Unlock()
		return &StateError{Op: "cycle", Reason: "autotune in progress"}
	}
	e.flags.active = ProcedureCycling
	e.flags.cycle = &cfg
	e.mu.Unlock()

	log.Printf("[engine] cycle run requested")
	e.Activate()
	return nil
}

// SubmitGains writes new PID gains. While polling, the gains are staged and
// the next tick writes and reloads them. While idle, they are written and
// read back immediately under the transport lock.
func (e *Engine) SubmitGains(g controller.GainTriple) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if e.running.Load() {
		e.mu.Lock()
		e.flags.gains = &g
		e.flags.gainReload = true
		e.mu.Unlock()
		return nil
	}

	if err := e.dev.WriteGains(g); err != nil {
		return err
	}
	read, err := e.dev.ReadGains()
	if err != nil {
		return err
	}
	e.gains = read
	e.publish()
	return nil
}

// Stop sends the shutdown command between ticks. It returns true only when
// the controller acknowledges; then polling stops and any procedure or
// pending request is discarded. Without an acknowledgement nothing changes
// and the caller should retry.
func (e *Engine) Stop() (bool, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	acked, err := e.dev.ShutDown()
	if err != nil {
		return false, err
	}
	if !acked {
		log.Printf("[engine] stop not acknowledged")
		return false, nil
	}

	e.running.Store(false)
	e.autotune.Reset()
	e.cycle.Reset()
	e.mu.Lock()
	e.flags = flags{}
	e.mu.Unlock()

	log.Printf("[engine] stopped")
	e.publish()
	return true, nil
}

func (e *Engine) activeProcedure() Procedure {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags.active
}

func (e *Engine) setActive(p Procedure) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags.active = p
}

func (e *Engine) takeAutotuneRequest() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.flags.autotune
	e.flags.autotune = false
	return req
}

func (e *Engine) peekCycleRequest() (CycleConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.flags.cycle == nil {
		return CycleConfig{}, false
	}
	return *e.flags.cycle, true
}

func (e *Engine) clearCycleRequest() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags.cycle = nil
}

func (e *Engine) peekGainReload() (*controller.GainTriple, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.flags.gainReload {
		return nil, false
	}
	if e.flags.gains == nil {
		return nil, true
	}
	g := *e.flags.gains
	return &g, true
}

func (e *Engine) clearStagedGains() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags.gains = nil
}

func (e *Engine) clearGainReload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags.gainReload = false
}
