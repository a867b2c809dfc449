package controller

import (
	"strings"
	"time"
)

// Client issues typed register operations over a Transport. Every call
// performs exactly one round trip per register it touches and never retries.
// Client is not safe for concurrent use; the owner serializes access.
type Client struct {
	t   Transport
	now func() time.Time
}

// NewClient creates a register client on top of t.
func NewClient(t Transport) *Client {
	return &Client{t: t, now: time.Now}
}

// SetClock overrides the timestamp source for readings.
func (c *Client) SetClock(now func() time.Time) { c.now = now }

// Close closes the underlying transport.
func (c *Client) Close() error { return c.t.Close() }

func (c *Client) roundTrip(frame string) (string, error) {
	if err := c.t.SendLine(frame); err != nil {
		return "", err
	}
	line, err := c.t.ReadLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readReply reads reg and checks the reply echoes that register, so a late
// reply to an earlier command is never taken for this one.
func (c *Client) readReply(reg int) (string, error) {
	line, err := c.roundTrip(EncodeRead(reg))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(line, RegisterPrefix(reg)) {
		return "", &ProtocolError{Register: reg, Response: line, Reason: "reply for another register"}
	}
	return line, nil
}

// ReadRegister reads a numeric register value.
func (c *Client) ReadRegister(reg int) (float64, error) {
	line, err := c.readReply(reg)
	if err != nil {
		return 0, err
	}
	v, ok := DecodeFloat(line)
	if !ok {
		return 0, &ProtocolError{Register: reg, Response: line, Reason: "no numeric value"}
	}
	return v, nil
}

// WriteRegister writes value and returns the acknowledgement line. The ack
// must at least echo the register number.
func (c *Client) WriteRegister(reg int, value float64) (string, error) {
	line, err := c.roundTrip(EncodeWrite(reg, value))
	if err != nil {
		return "", err
	}
	if !DecodeAck(line, RegisterPrefix(reg)) {
		return line, &ProtocolError{Register: reg, Response: line, Reason: "write not acknowledged"}
	}
	return line, nil
}

// command writes an integer command value and reports whether the ack
// echoes exactly that value.
func (c *Client) command(reg int, value float64) (bool, error) {
	line, err := c.roundTrip(EncodeWrite(reg, value))
	if err != nil {
		return false, err
	}
	return DecodeAck(line, ExpectAck(reg, value)), nil
}

func (c *Client) ReadSensorD() (float64, error) { return c.ReadRegister(RegSensorD) }

func (c *Client) ReadSensorA() (float64, error) { return c.ReadRegister(RegSensorA) }

// ReadSensors reads Sensor D then Sensor A and stamps the pair.
func (c *Client) ReadSensors() (SensorReading, error) {
	d, err := c.ReadSensorD()
	if err != nil {
		return SensorReading{}, err
	}
	a, err := c.ReadSensorA()
	if err != nil {
		return SensorReading{}, err
	}
	return SensorReading{SensorD: d, SensorA: a, Timestamp: c.now()}, nil
}

// ReadGains reads P, I and D from registers 5, 6 and 7 in that order.
func (c *Client) ReadGains() (GainTriple, error) {
	var g GainTriple
	var err error
	if g.P, err = c.ReadRegister(RegGainP); err != nil {
		return GainTriple{}, err
	}
	if g.I, err = c.ReadRegister(RegGainI); err != nil {
		return GainTriple{}, err
	}
	if g.D, err = c.ReadRegister(RegGainD); err != nil {
		return GainTriple{}, err
	}
	return g, nil
}

// WriteGains writes P, I and D. There is no read-back; the caller reloads.
func (c *Client) WriteGains(g GainTriple) error {
	for _, w := range []struct {
		reg int
		v   float64
	}{{RegGainP, g.P}, {RegGainI, g.I}, {RegGainD, g.D}} {
		if _, err := c.WriteRegister(w.reg, w.v); err != nil {
			return err
		}
	}
	return nil
}

// RequestAutotuneStart writes 2=4; ok is true iff the ack contains "REG 2=4".
func (c *Client) RequestAutotuneStart() (bool, error) {
	return c.command(RegMode, ModeAutotune)
}

// ReadAutotuneStatusBits reads the status bit field from register 1.
func (c *Client) ReadAutotuneStatusBits() (int, error) {
	line, err := c.readReply(RegStatus)
	if err != nil {
		return 0, err
	}
	bits, ok := DecodeIntRegister(line)
	if !ok {
		return 0, &ProtocolError{Register: RegStatus, Response: line, Reason: "no status bits"}
	}
	return bits, nil
}

// SetSetpoint writes the target temperature to register 4.
func (c *Client) SetSetpoint(temp float64) error {
	_, err := c.WriteRegister(RegSetpoint, temp)
	return err
}

// EnterCycleMode switches the controller into cycle mode (2=3).
func (c *Client) EnterCycleMode() error {
	ok, err := c.command(RegMode, ModeCycle)
	if err != nil {
		return err
	}
	if !ok {
		return &ProtocolError{Register: RegMode, Reason: "cycle mode not acknowledged"}
	}
	return nil
}

// StartFan enables the fan (39=1) and sets its drive mode (63=2).
func (c *Client) StartFan() error {
	for _, w := range []struct {
		reg int
		v   float64
	}{{RegFanEnable, 1}, {RegFanMode, 2}} {
		ok, err := c.command(w.reg, w.v)
		if err != nil {
			return err
		}
		if !ok {
			return &ProtocolError{Register: w.reg, Reason: "fan command not acknowledged"}
		}
	}
	return nil
}

// ShutDown writes 2=0; ok is true iff the ack contains "REG 2=0".
func (c *Client) ShutDown() (bool, error) {
	return c.command(RegMode, ModeStop)
}
