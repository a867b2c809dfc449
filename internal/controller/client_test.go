package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport replies to each SendLine with the next scripted line.
type scriptedTransport struct {
	replies []string
	sent    []string
	sendErr error
}

func (s *scriptedTransport) SendLine(text string) error {
	if s.sendErr != nil {
		return &IOError{Op: "write", Err: s.sendErr}
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *scriptedTransport) ReadLine() (string, error) {
	if len(s.replies) == 0 {
		return "", &IOError{Op: "read", Err: ErrTimeout}
	}
	line := s.replies[0]
	s.replies = s.replies[1:]
	return line, nil
}

func (s *scriptedTransport) Close() error { return nil }

func TestClient_ReadSensors(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"REG 68=21.5", "REG 65=22.0"}}
	c := NewClient(tr)
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return stamp })

	r, err := c.ReadSensors()
	require.NoError(t, err)
	assert.Equal(t, SensorReading{SensorD: 21.5, SensorA: 22.0, Timestamp: stamp}, r)
	assert.Equal(t, []string{"$REG 68\r\n", "$REG 65\r\n"}, tr.sent)
}

func TestClient_ReadSensorsProtocolError(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"ERR"}}
	c := NewClient(tr)

	_, err := c.ReadSensors()
	require.Error(t, err)

	var pErr *ProtocolError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, RegSensorD, pErr.Register)
	assert.Len(t, tr.sent, 1, "sensor A must not be read after a failed sensor D read")
}

func TestClient_Gains(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"REG 5=2.5", "REG 6=0.1", "REG 7=12"}}
	c := NewClient(tr)

	g, err := c.ReadGains()
	require.NoError(t, err)
	assert.Equal(t, GainTriple{P: 2.5, I: 0.1, D: 12}, g)
	assert.Equal(t, []string{"$REG 5\r\n", "$REG 6\r\n", "$REG 7\r\n"}, tr.sent)

	tr = &scriptedTransport{replies: []string{"REG 5=3", "REG 6=0.2", "REG 7=8"}}
	c = NewClient(tr)
	require.NoError(t, c.WriteGains(GainTriple{P: 3, I: 0.2, D: 8}))
	assert.Equal(t, []string{"$REG 5=3\r\n", "$REG 6=0.2\r\n", "$REG 7=8\r\n"}, tr.sent)
}

func TestClient_WriteGainsStopsOnBadAck(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"REG 5=3", "ERR"}}
	c := NewClient(tr)

	err := c.WriteGains(GainTriple{P: 3, I: 0.2, D: 8})
	require.True(t, IsProtocolError(err))
	assert.Len(t, tr.sent, 2)
}

func TestClient_Commands(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"REG 2=4", "REG 2=1", "REG 2=0"}}
	c := NewClient(tr)

	ok, err := c.RequestAutotuneStart()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ShutDown()
	require.NoError(t, err)
	assert.False(t, ok, "ack REG 2=1 does not confirm a stop")

	ok, err = c.ShutDown()
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{"$REG 2=4\r\n", "$REG 2=0\r\n", "$REG 2=0\r\n"}, tr.sent)
}

func TestClient_AutotuneStatusBits(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"REG 1=2048", "garbage"}}
	c := NewClient(tr)

	bits, err := c.ReadAutotuneStatusBits()
	require.NoError(t, err)
	assert.NotZero(t, bits&StatusAutotuneDone)

	_, err = c.ReadAutotuneStatusBits()
	assert.True(t, IsProtocolError(err))
}

func TestClient_StartFan(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"REG 39=1", "REG 63=2"}}
	c := NewClient(tr)
	require.NoError(t, c.StartFan())
	assert.Equal(t, []string{"$REG 39=1\r\n", "$REG 63=2\r\n"}, tr.sent)

	tr = &scriptedTransport{replies: []string{"REG 39=0"}}
	c = NewClient(tr)
	err := c.StartFan()
	var pErr *ProtocolError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, RegFanEnable, pErr.Register)
}

func TestClient_SetpointAndCycleMode(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"REG 2=3", "REG 4=80"}}
	c := NewClient(tr)

	require.NoError(t, c.EnterCycleMode())
	require.NoError(t, c.SetSetpoint(80))
	assert.Equal(t, []string{"$REG 2=3\r\n", "$REG 4=80\r\n"}, tr.sent)
}

func TestClient_TransportErrors(t *testing.T) {
	c := NewClient(&scriptedTransport{sendErr: errors.New("unplugged")})
	_, err := c.ReadSensorD()
	assert.True(t, IsIOError(err))

	c = NewClient(&scriptedTransport{})
	_, err = c.ShutDown()
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestClient_RejectsReplyForAnotherRegister(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"REG 68=21.5", "REG 68=21.5"}}
	c := NewClient(tr)

	_, err := c.ReadSensorA()
	var pErr *ProtocolError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, RegSensorA, pErr.Register)
	assert.Equal(t, "REG 68=21.5", pErr.Response)

	_, err = c.ReadAutotuneStatusBits()
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, RegStatus, pErr.Register)
}
