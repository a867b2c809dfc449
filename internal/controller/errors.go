package controller

import (
	"errors"
	"fmt"
)

// ErrTimeout is wrapped by an IOError when no line terminator arrives within
// the transport's read timeout.
var ErrTimeout = errors.New("read timed out")

// ErrClosed is wrapped by an IOError when the transport has been closed.
var ErrClosed = errors.New("port closed")

// IOError is a transport-level failure: closed port, write or read error,
// or a read timeout.
type IOError struct {
	Op  string // "open", "write", "read"
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("controller: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ProtocolError reports a response that could not be interpreted, or an
// acknowledgement that did not match the command sent.
type ProtocolError struct {
	Register int
	Response string
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("controller: register %d: %s (response %q)", e.Register, e.Reason, e.Response)
}

// IsIOError reports whether err is, or wraps, an IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// IsProtocolError reports whether err is, or wraps, a ProtocolError.
func IsProtocolError(err error) bool {
	var pErr *ProtocolError
	return errors.As(err, &pErr)
}
