package engine

import (
	"fmt"
	"math"

	"github.com/rs/xid"
)

// Phase is a step of the thermal-cycling switchover loop. PhaseIdle means no
// run is active.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaitHigh
	PhaseDwellHigh
	PhaseCommandLow
	PhaseWaitLow
	PhaseDwellLow
	PhaseCommandHigh
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaitHigh:
		return "wait-high"
	case PhaseDwellHigh:
		return "dwell-high"
	case PhaseCommandLow:
		return "command-low"
	case PhaseWaitLow:
		return "wait-low"
	case PhaseDwellLow:
		return "dwell-low"
	case PhaseCommandHigh:
		return "command-high"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for v := PhaseIdle; v <= PhaseCommandHigh; v++ {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// CycleConfig parameterizes a cycling run. It is fixed for the run's lifetime.
type CycleConfig struct {
	HighTemp            float64 `yaml:"high_temp" json:"highTemp"`
	LowTemp             float64 `yaml:"low_temp" json:"lowTemp"`
	UsePercentage       bool    `yaml:"use_percentage" json:"usePercentage"`
	PercentageThreshold float64 `yaml:"percentage_threshold" json:"percentageThreshold"`
	SwitchoverPeriod    float64 `yaml:"switchover_period" json:"switchoverPeriod"`
	TargetCycles        uint    `yaml:"target_cycles" json:"targetCycles"`
}

// Validate checks the configuration before a run may start.
func (c CycleConfig) Validate() error {
	switch {
	case c.SwitchoverPeriod <= 0:
		return fmt.Errorf("%w: switchover period must be > 0", ErrInvalidCycleConfig)
	case c.TargetCycles == 0:
		return fmt.Errorf("%w: target cycles must be >= 1", ErrInvalidCycleConfig)
	case c.HighTemp <= c.LowTemp:
		return fmt.Errorf("%w: high temp %.2f must exceed low temp %.2f", ErrInvalidCycleConfig, c.HighTemp, c.LowTemp)
	case c.UsePercentage && (c.PercentageThreshold <= 0 || c.PercentageThreshold >= 200):
		return fmt.Errorf("%w: percentage threshold must be in (0, 200)", ErrInvalidCycleConfig)
	}
	return nil
}

// HighThreshold is the Sensor D value that ends WaitHigh.
func (c CycleConfig) HighThreshold() float64 {
	if c.UsePercentage {
		return c.HighTemp * (c.PercentageThreshold / 100)
	}
	return c.HighTemp
}

// LowThreshold is the Sensor D value that ends WaitLow. With percentages the
// complement of the high-side threshold is applied above LowTemp.
func (c CycleConfig) LowThreshold() float64 {
	if c.UsePercentage {
		return c.LowTemp * (1 + math.Abs(c.PercentageThreshold-100)/100)
	}
	return c.LowTemp
}

// CycleRun is the mutable progress of a run.
type CycleRun struct {
	ID              string `json:"id,omitempty"`
	Phase           Phase  `json:"phase"`
	SwitchoverCount uint   `json:"switchoverCount"`
	CompletedCycles uint   `json:"completedCycles"`
}

// CycleEvent is what a Step produced that the engine must react to.
type CycleEvent int

const (
	CycleContinue CycleEvent = iota
	// CycleCompleted: CommandHigh finished one high→low→high traversal.
	CycleCompleted
	// CycleFinished: the target count was reached; the engine shuts down.
	CycleFinished
)

// cycleDevice is the subset of the register client a run drives.
type cycleDevice interface {
	EnterCycleMode() error
	SetSetpoint(temp float64) error
}

// Cycle drives the six-phase switchover loop. Only the engine tick mutates it.
type Cycle struct {
	cfg CycleConfig
	run CycleRun
}

func (c *Cycle) Active() bool        { return c.run.Phase != PhaseIdle }
func (c *Cycle) Run() CycleRun       { return c.run }
func (c *Cycle) Config() CycleConfig { return c.cfg }

// Begin performs the entry transition: cycle mode on, setpoint to HighTemp,
// phase WaitHigh. Nothing changes if a command fails.
func (c *Cycle) Begin(cfg CycleConfig, dev cycleDevice) error {
	if err := dev.EnterCycleMode(); err != nil {
		return err
	}
	if err := dev.SetSetpoint(cfg.HighTemp); err != nil {
		return err
	}
	c.cfg = cfg
	c.run = CycleRun{ID: xid.New().String(), Phase: PhaseWaitHigh}
	return nil
}

// Step runs one phase for the latest Sensor D reading. A failed setpoint
// command leaves the phase unchanged so the next tick repeats it.
func (c *Cycle) Step(sensorD float64, dev cycleDevice) (CycleEvent, error) {
	if !c.Active() {
		return CycleContinue, nil
	}
	if c.run.CompletedCycles >= c.cfg.TargetCycles {
		return CycleFinished, nil
	}

	switch c.run.Phase {
	case PhaseWaitHigh:
		if sensorD >= c.cfg.HighThreshold() {
			c.run.SwitchoverCount++
			c.run.Phase = PhaseDwellHigh
		}

	case PhaseDwellHigh:
		c.run.SwitchoverCount++
		if c.dwellElapsed() {
			c.run.Phase = PhaseCommandLow
		}

	case PhaseCommandLow:
		if err := dev.SetSetpoint(c.cfg.LowTemp); err != nil {
			return CycleContinue, err
		}
		c.run.Phase = PhaseWaitLow

	case PhaseWaitLow:
		if sensorD <= c.cfg.LowThreshold() {
			c.run.SwitchoverCount++
			c.run.Phase = PhaseDwellLow
		}

	case PhaseDwellLow:
		c.run.SwitchoverCount++
		if c.dwellElapsed() {
			c.run.Phase = PhaseCommandHigh
		}

	case PhaseCommandHigh:
		if err := dev.SetSetpoint(c.cfg.HighTemp); err != nil {
			return CycleContinue, err
		}
		c.run.CompletedCycles++
		c.run.Phase = PhaseWaitHigh
		return CycleCompleted, nil
	}
	return CycleContinue, nil
}

// dwellElapsed: half the switchover count lands on an exact multiple of the
// period. Odd counts give a fractional half and keep dwelling.
func (c *Cycle) dwellElapsed() bool {
	return math.Mod(float64(c.run.SwitchoverCount)/2, c.cfg.SwitchoverPeriod) == 0
}

// Reset discards the run.
func (c *Cycle) Reset() {
	c.cfg = CycleConfig{}
	c.run = CycleRun{}
}
