package controller

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Transport carries one command line out and one response line back.
// Calls are synchronous and must not be interleaved by concurrent callers.
type Transport interface {
	// SendLine writes text followed by the CRLF terminator.
	SendLine(text string) error
	// ReadLine blocks until a CRLF-terminated line arrives and returns it
	// without the terminator.
	ReadLine() (string, error)
	Close() error
}

// SerialConfig holds connection settings for a controller on a serial port.
type SerialConfig struct {
	PortPath    string        `yaml:"port_path" json:"portPath"`
	BaudRate    int           `yaml:"baud_rate" json:"baudRate"`
	ReadTimeout time.Duration `yaml:"-" json:"-"`
}

const (
	// Poll slice for a single port.Read; the overall line deadline is
	// ReadTimeout.
	readSlice = 100 * time.Millisecond

	defaultReadTimeout = 2 * time.Second

	drainTimeout = 500 * time.Millisecond
)

// LineTransport implements Transport over any byte stream. A read returning
// zero bytes without error is treated as an idle poll slice, which is how
// go.bug.st/serial reports a read timeout.
type LineTransport struct {
	mu      sync.Mutex
	rw      io.ReadWriteCloser
	timeout time.Duration
	pending []byte
	closed  bool
}

// NewLineTransport wraps rw. A zero timeout selects the 2s default.
func NewLineTransport(rw io.ReadWriteCloser, timeout time.Duration) *LineTransport {
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	return &LineTransport{rw: rw, timeout: timeout}
}

// OpenSerial opens the controller port at 8N1 and drains any boot output.
func OpenSerial(cfg SerialConfig) (*LineTransport, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, &IOError{Op: "open", Err: fmt.Errorf("%s: %w", cfg.PortPath, err)}
	}
	if err := port.SetReadTimeout(readSlice); err != nil {
		port.Close()
		return nil, &IOError{Op: "open", Err: fmt.Errorf("set timeout: %w", err)}
	}
	log.Printf("[controller] opened %s at %d baud", cfg.PortPath, cfg.BaudRate)

	drainPort(port)
	return NewLineTransport(port, cfg.ReadTimeout), nil
}

// drainPort discards unsolicited bytes until the line goes quiet.
func drainPort(port serial.Port) {
	port.ResetInputBuffer()

	total := 0
	deadline := time.Now().Add(drainTimeout)
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, _ := port.Read(buf)
		if n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		log.Printf("[controller] drain cleared %d bytes", total)
	}
}

// inputResetter is implemented by serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

// SendLine discards whatever is left of the previous exchange, including a
// reply that arrived after its read timed out, then writes text.
func (t *LineTransport) SendLine(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return &IOError{Op: "write", Err: ErrClosed}
	}
	if len(t.pending) > 0 {
		log.Printf("[controller] discarding %d stale bytes", len(t.pending))
		t.pending = t.pending[:0]
	}
	if r, ok := t.rw.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return &IOError{Op: "write", Err: fmt.Errorf("reset input: %w", err)}
		}
	}
	if !strings.HasSuffix(text, Terminator) {
		text += Terminator
	}
	if _, err := t.rw.Write([]byte(text)); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

func (t *LineTransport) ReadLine() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", &IOError{Op: "read", Err: ErrClosed}
	}

	deadline := time.Now().Add(t.timeout)
	buf := make([]byte, 128)
	for {
		if idx := bytes.Index(t.pending, []byte(Terminator)); idx >= 0 {
			line := string(t.pending[:idx])
			t.pending = append(t.pending[:0], t.pending[idx+len(Terminator):]...)
			return line, nil
		}
		if !time.Now().Before(deadline) {
			return "", &IOError{Op: "read", Err: ErrTimeout}
		}

		n, err := t.rw.Read(buf)
		if n > 0 {
			t.pending = append(t.pending, buf[:n]...)
		}
		if err != nil {
			if bytes.Contains(t.pending, []byte(Terminator)) {
				continue
			}
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("disconnected: %w", err)
			}
			return "", &IOError{Op: "read", Err: err}
		}
	}
}

func (t *LineTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.pending = nil
	return t.rw.Close()
}
