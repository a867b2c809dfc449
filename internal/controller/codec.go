package controller

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Terminator ends every command and response line.
const Terminator = "\r\n"

// floatPattern matches the first signed decimal following an '='.
var floatPattern = regexp.MustCompile(`=(-?\d+(\.\d+)?)`)

// EncodeRead frames a register read: "$REG n\r\n".
func EncodeRead(reg int) string {
	return fmt.Sprintf("$REG %d%s", reg, Terminator)
}

// EncodeWrite frames a register write: "$REG n=value\r\n".
func EncodeWrite(reg int, value float64) string {
	return fmt.Sprintf("$REG %d=%s%s", reg, FormatValue(value), Terminator)
}

// FormatValue renders a register value the way the controller echoes it:
// integers without a fractional part, everything else in shortest form.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ExpectAck returns the substring a write acknowledgement must contain.
func ExpectAck(reg int, value float64) string {
	return fmt.Sprintf("REG %d=%s", reg, FormatValue(value))
}

// RegisterPrefix is how every reply concerning reg begins: "REG n=".
func RegisterPrefix(reg int) string {
	return fmt.Sprintf("REG %d=", reg)
}

// DecodeFloat extracts the first signed decimal number following an '='.
// The second result is false when the line carries no number; callers must
// treat that as a protocol error, never as zero.
func DecodeFloat(line string) (float64, bool) {
	m := floatPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DecodeAck reports whether a write acknowledgement contains expected.
func DecodeAck(line, expected string) bool {
	return strings.Contains(line, expected)
}

// DecodeIntRegister parses the integer following "REG n=". Lines that do not
// start with a register echo, or carry a non-integer value, yield false.
func DecodeIntRegister(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "REG ") {
		return 0, false
	}
	_, value, ok := strings.Cut(line, "=")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return n, true
}
