package engine

import (
	"sync"
	"time"

	"github.com/shaunagostinho/caramat/internal/controller"
)

// fakeDevice is a register surface whose Sensor D either follows the last
// setpoint or replays a fixed script.
type fakeDevice struct {
	mu sync.Mutex

	followSetpoint bool
	sensorD        float64
	sensorA        float64
	sensorErr      error

	gains       controller.GainTriple
	written     []controller.GainTriple
	statusBits  int
	autotuneAck bool
	shutdownAck bool
	// shutdownFails makes the next n ShutDown calls time out.
	shutdownFails int

	setpoints      []float64
	autotuneStarts int
	shutdowns      int
	fanStarts      int
	cycleModes     int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		sensorD:     21,
		sensorA:     21,
		gains:       controller.GainTriple{P: 2.5, I: 0.1, D: 12},
		autotuneAck: true,
		shutdownAck: true,
	}
}

func (f *fakeDevice) ReadSensors() (controller.SensorReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sensorErr != nil {
		return controller.SensorReading{}, f.sensorErr
	}
	d := f.sensorD
	if f.followSetpoint && len(f.setpoints) > 0 {
		d = f.setpoints[len(f.setpoints)-1]
	}
	return controller.SensorReading{SensorD: d, SensorA: f.sensorA, Timestamp: time.Now()}, nil
}

func (f *fakeDevice) ReadGains() (controller.GainTriple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gains, nil
}

func (f *fakeDevice) WriteGains(g controller.GainTriple) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, g)
	f.gains = g
	return nil
}

func (f *fakeDevice) RequestAutotuneStart() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autotuneStarts++
	return f.autotuneAck, nil
}

func (f *fakeDevice) ReadAutotuneStatusBits() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusBits, nil
}

func (f *fakeDevice) EnterCycleMode() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycleModes++
	return nil
}

func (f *fakeDevice) SetSetpoint(temp float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setpoints = append(f.setpoints, temp)
	return nil
}

func (f *fakeDevice) StartFan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fanStarts++
	return nil
}

func (f *fakeDevice) ShutDown() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdownFails > 0 {
		f.shutdownFails--
		return false, &controller.IOError{Op: "read", Err: controller.ErrTimeout}
	}
	f.shutdowns++
	return f.shutdownAck, nil
}

func (f *fakeDevice) set(fn func(f *fakeDevice)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// recorder collects observer output and sink appends.
type recorder struct {
	mu        sync.Mutex
	statuses  []string
	snapshots []Snapshot
	faults    []error
	readings  []controller.SensorReading
}

func (r *recorder) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, msg)
}

func (r *recorder) Snapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) Fault(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, err)
}

func (r *recorder) Append(reading controller.SensorReading) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
	return "", nil
}

func (r *recorder) count(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.statuses {
		if s == msg {
			n++
		}
	}
	return n
}

func (r *recorder) faultCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.faults)
}

func (r *recorder) appended() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}

// scriptedTransport answers each command with the next scripted line.
type scriptedTransport struct {
	replies []string
	sent    []string
}

func (s *scriptedTransport) SendLine(text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func (s *scriptedTransport) ReadLine() (string, error) {
	if len(s.replies) == 0 {
		return "", &controller.IOError{Op: "read", Err: controller.ErrTimeout}
	}
	line := s.replies[0]
	s.replies = s.replies[1:]
	return line, nil
}

func (s *scriptedTransport) Close() error { return nil }

func newTestEngine(dev Device) (*Engine, *recorder) {
	rec := &recorder{}
	return New(dev, rec, rec, Config{Period: 10 * time.Millisecond}), rec
}
