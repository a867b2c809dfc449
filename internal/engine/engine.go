package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaunagostinho/caramat/internal/controller"
)

// Device is the register surface the engine drives. *controller.Client
// implements it.
type Device interface {
	ReadSensors() (controller.SensorReading, error)
	ReadGains() (controller.GainTriple, error)
	WriteGains(g controller.GainTriple) error
	RequestAutotuneStart() (bool, error)
	ReadAutotuneStatusBits() (int, error)
	EnterCycleMode() error
	SetSetpoint(temp float64) error
	StartFan() error
	ShutDown() (bool, error)
}

// Sink receives one reading per tick. Append errors are logged and otherwise
// ignored.
type Sink interface {
	Append(r controller.SensorReading) (string, error)
}

// Config holds engine timing.
type Config struct {
	Period time.Duration `yaml:"-" json:"-"`
	// FaultThreshold is the number of consecutive aborted ticks after which
	// "Connection lost" is reported.
	FaultThreshold int `yaml:"fault_threshold" json:"faultThreshold"`
}

const (
	defaultPeriod         = time.Second
	defaultFaultThreshold = 5
)

// Engine is the poll loop. A single worker goroutine (Run) owns the device
// for the duration of each tick; callers talk to it through the intent
// methods, which only set flags or take the tick lock between ticks.
type Engine struct {
	dev  Device
	sink Sink
	obs  Observer
	cfg  Config

	// tickMu serializes all device access: ticks, Stop, and idle gain writes.
	tickMu   sync.Mutex
	autotune Autotune
	cycle    Cycle
	gains    controller.GainTriple
	latest   controller.SensorReading
	started  bool
	failures int
	lost     bool

	running atomic.Bool
	wake    chan struct{}

	mu    sync.Mutex
	flags flags
}

// New creates an engine. A nil sink discards readings; a nil observer
// discards output.
func New(dev Device, sink Sink, obs Observer, cfg Config) *Engine {
	if cfg.Period <= 0 {
		cfg.Period = defaultPeriod
	}
	if cfg.FaultThreshold <= 0 {
		cfg.FaultThreshold = defaultFaultThreshold
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Engine{
		dev:  dev,
		sink: sink,
		obs:  obs,
		cfg:  cfg,
		wake: make(chan struct{}, 1),
	}
}

// Running reports whether the poll loop is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Activate starts polling without requesting a procedure. It is a no-op when
// already running.
func (e *Engine) Activate() {
	if e.running.CompareAndSwap(false, true) {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

// Run executes ticks every period while the engine is running and blocks
// while it is not. It returns only when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	log.Printf("[engine] worker started (period %v)", e.cfg.Period)
	for {
		if !e.running.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
			}
			continue
		}

		start := time.Now()
		e.Tick()
		sleep := e.cfg.Period - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick runs one poll iteration. An error from any step aborts the remaining
// steps of this tick only.
func (e *Engine) Tick() {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if !e.running.Load() {
		return
	}
	err := e.tick()
	e.recordOutcome(err)
	e.publish()
}

func (e *Engine) tick() error {
	if !e.started {
		if err := e.startup(); err != nil {
			return fmt.Errorf("startup: %w", err)
		}
	}

	r, err := e.dev.ReadSensors()
	if err != nil {
		return fmt.Errorf("read sensors: %w", err)
	}
	e.latest = r

	if err := e.startAutotune(); err != nil {
		return fmt.Errorf("autotune start: %w", err)
	}
	if err := e.trackAutotune(); err != nil {
		return fmt.Errorf("autotune progress: %w", err)
	}
	if err := e.reloadGains(); err != nil {
		return fmt.Errorf("gains: %w", err)
	}
	if err := e.advanceCycle(); err != nil {
		return fmt.Errorf("cycle: %w", err)
	}

	e.appendLog(r)
	return nil
}

// startup runs once on first activation: fan on, initial gains.
func (e *Engine) startup() error {
	if err := e.dev.StartFan(); err != nil {
		return err
	}
	g, err := e.dev.ReadGains()
	if err != nil {
		return err
	}
	e.gains = g
	e.started = true
	log.Printf("[engine] startup complete, gains P=%g I=%g D=%g", g.P, g.I, g.D)
	return nil
}

func (e *Engine) startAutotune() error {
	if e.takeAutotuneRequest() {
		e.autotune.Request()
	}
	if e.autotune.State() != AutotuneRequested {
		return nil
	}

	acked, err := e.dev.RequestAutotuneStart()
	if err != nil {
		return err
	}
	e.autotune.Started(acked)
	if !acked {
		log.Printf("[engine] autotune start not acknowledged, retrying next tick")
	}
	return nil
}

func (e *Engine) trackAutotune() error {
	// A terminal state here means the previous tick's shutdown failed;
	// finish without re-reading the bits.
	switch e.autotune.State() {
	case AutotuneComplete:
		return e.finishAutotune(StatusAutotuneComplete)
	case AutotuneFailed:
		return e.finishAutotune(StatusAutotuneFailed)
	case AutotuneRunning:
	default:
		return nil
	}
	bits, err := e.dev.ReadAutotuneStatusBits()
	if err != nil {
		return err
	}

	switch e.autotune.Observe(bits) {
	case AutotuneComplete:
		return e.finishAutotune(StatusAutotuneComplete)
	case AutotuneFailed:
		return e.finishAutotune(StatusAutotuneFailed)
	default:
		e.obs.Status(StatusAutotuneProgress)
	}
	return nil
}

// finishAutotune shuts the controller down and reports the terminal state
// once. If the shutdown round trip fails the machine is left terminal and the
// next tick's trackAutotune retries the shutdown.
func (e *Engine) finishAutotune(msg string) error {
	if err := e.shutDown(); err != nil {
		return err
	}
	e.obs.Status(msg)
	e.autotune.Reset()
	e.setActive(ProcedureNone)
	return nil
}

func (e *Engine) reloadGains() error {
	staged, reload := e.peekGainReload()
	if !reload {
		return nil
	}
	if staged != nil {
		if err := e.dev.WriteGains(*staged); err != nil {
			return err
		}
		e.clearStagedGains()
	}
	g, err := e.dev.ReadGains()
	if err != nil {
		return err
	}
	e.gains = g
	e.clearGainReload()
	return nil
}

func (e *Engine) advanceCycle() error {
	if cfg, ok := e.peekCycleRequest(); ok {
		if err := e.cycle.Begin(cfg, e.dev); err != nil {
			return err
		}
		e.clearCycleRequest()
		log.Printf("[engine] cycle run %s started: %.2f/%.2f x%d",
			e.cycle.Run().ID, cfg.HighTemp, cfg.LowTemp, cfg.TargetCycles)
		e.obs.Status(CycleStatus(0))
		return nil
	}

	ev, err := e.cycle.Step(e.latest.SensorD, e.dev)
	if err != nil {
		return err
	}
	switch ev {
	case CycleCompleted:
		e.obs.Status(CycleStatus(e.cycle.Run().CompletedCycles))
	case CycleFinished:
		if err := e.shutDown(); err != nil {
			return err
		}
		log.Printf("[engine] cycle run %s finished after %d cycles", e.cycle.Run().ID, e.cycle.Config().TargetCycles)
		e.cycle.Reset()
		e.setActive(ProcedureNone)
		e.obs.Status(StatusCycleCompleted)
	}
	return nil
}

// shutDown sends the stop command. An acknowledged stop ends polling after
// this tick; an unacknowledged one leaves the engine running, and the caller
// has to retry Stop.
func (e *Engine) shutDown() error {
	acked, err := e.dev.ShutDown()
	if err != nil {
		return err
	}
	if !acked {
		log.Printf("[engine] shutdown not acknowledged, engine keeps running")
		return nil
	}
	e.running.Store(false)
	return nil
}

func (e *Engine) appendLog(r controller.SensorReading) {
	if e.sink == nil {
		return
	}
	if _, err := e.sink.Append(r); err != nil {
		log.Printf("[engine] log append failed: %v", err)
	}
}

func (e *Engine) recordOutcome(err error) {
	if err == nil {
		if e.lost {
			log.Printf("[engine] connection restored")
			e.obs.Status(StatusConnectionBack)
		}
		e.failures = 0
		e.lost = false
		return
	}

	e.failures++
	log.Printf("[engine] tick aborted: %v", err)
	e.obs.Fault(err)
	if e.failures >= e.cfg.FaultThreshold && !e.lost {
		e.lost = true
		log.Printf("[engine] %d consecutive failed ticks, reporting connection lost", e.failures)
		e.obs.Status(StatusConnectionLost)
	}
}

// publish sends a snapshot. Caller holds tickMu.
func (e *Engine) publish() {
	e.obs.Snapshot(Snapshot{
		Reading:   e.latest,
		Gains:     e.gains,
		Autotune:  e.autotune.State(),
		Procedure: e.activeProcedure(),
		Cycle:     e.cycle.Run(),
		Running:   e.running.Load(),
		Connected: !e.lost,
	})
}
