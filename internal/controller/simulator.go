package controller

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
)

// Simulator is an in-memory controller that speaks the register protocol.
// It heats Sensor D toward the setpoint while a procedure runs, lets Sensor A
// lag behind, and completes an autotune after a fixed number of status polls.
type Simulator struct {
	mu       sync.Mutex
	regs     map[int]float64
	replies  []string
	closed   bool
	ambient  float64
	rate     float64 // fraction of the gap closed per sensor read
	noise    float64
	tunePoll int // status polls until autotune finishes
	tuneLeft int
	tuneFail bool
}

// NewSimulator creates a simulated controller at ambient temperature.
func NewSimulator() *Simulator {
	s := &Simulator{
		regs:     make(map[int]float64),
		ambient:  21.0,
		rate:     0.15,
		noise:    0.05,
		tunePoll: 30,
	}
	s.regs[RegSensorD] = s.ambient
	s.regs[RegSensorA] = s.ambient
	s.regs[RegSetpoint] = s.ambient
	s.regs[RegGainP] = 2.5
	s.regs[RegGainI] = 0.1
	s.regs[RegGainD] = 12
	return s
}

// SetAutotune configures how many status polls an autotune takes and whether
// it ends in failure.
func (s *Simulator) SetAutotune(polls int, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunePoll = polls
	s.tuneFail = fail
}

// SetNoise sets the amplitude of random noise added to sensor readings.
func (s *Simulator) SetNoise(amplitude float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noise = amplitude
}

// Register returns the current value of a register.
func (s *Simulator) Register(reg int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg]
}

func (s *Simulator) SendLine(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &IOError{Op: "write", Err: ErrClosed}
	}
	s.replies = append(s.replies, s.handle(strings.TrimSpace(text)))
	return nil
}

func (s *Simulator) ReadLine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", &IOError{Op: "read", Err: ErrClosed}
	}
	if len(s.replies) == 0 {
		return "", &IOError{Op: "read", Err: ErrTimeout}
	}
	line := s.replies[0]
	s.replies = s.replies[1:]
	return line, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulator) handle(cmd string) string {
	body, ok := strings.CutPrefix(cmd, "$REG ")
	if !ok {
		return "ERR"
	}
	regText, valueText, isWrite := strings.Cut(body, "=")
	reg, err := strconv.Atoi(strings.TrimSpace(regText))
	if err != nil {
		return "ERR"
	}

	if isWrite {
		v, err := strconv.ParseFloat(strings.TrimSpace(valueText), 64)
		if err != nil {
			return "ERR"
		}
		s.write(reg, v)
		return fmt.Sprintf("REG %d=%s", reg, FormatValue(v))
	}

	switch reg {
	case RegSensorD:
		s.step()
	case RegStatus:
		s.pollStatus()
		return fmt.Sprintf("REG %d=%d", reg, int(s.regs[RegStatus]))
	}
	return fmt.Sprintf("REG %d=%.2f", reg, s.regs[reg])
}

func (s *Simulator) write(reg int, v float64) {
	s.regs[reg] = v
	if reg != RegMode {
		return
	}
	switch int(v) {
	case ModeAutotune:
		s.tuneLeft = s.tunePoll
		s.regs[RegStatus] = 0
	case ModeStop:
		s.tuneLeft = 0
	}
}

func (s *Simulator) pollStatus() {
	if int(s.regs[RegMode]) != ModeAutotune || s.tuneLeft <= 0 {
		return
	}
	s.tuneLeft--
	if s.tuneLeft > 0 {
		return
	}
	if s.tuneFail {
		s.regs[RegStatus] = StatusAutotuneFailed
		return
	}
	s.regs[RegStatus] = StatusAutotuneDone
}

// step advances the thermal model by one sensor read.
func (s *Simulator) step() {
	target := s.ambient
	if int(s.regs[RegMode]) != ModeStop {
		target = s.regs[RegSetpoint]
	}
	d := s.regs[RegSensorD]
	d += (target - d) * s.rate
	s.regs[RegSensorD] = d + (rand.Float64()*2-1)*s.noise

	a := s.regs[RegSensorA]
	s.regs[RegSensorA] = a + (d-a)*s.rate/2
}
