package controller

import "time"

// Register numbers on the controller.
const (
	RegStatus    = 1  // status bits; 11 = autotune done, 12 = autotune failed
	RegMode      = 2  // run/mode command
	RegSetpoint  = 4  // target temperature
	RegGainP     = 5  // proportional gain
	RegGainI     = 6  // integral gain
	RegGainD     = 7  // derivative gain
	RegFanEnable = 39 // fan output enable
	RegFanMode   = 63 // fan drive mode
	RegSensorA   = 65
	RegSensorD   = 68
)

// Values written to RegMode.
const (
	ModeStop     = 0
	ModeCycle    = 3
	ModeAutotune = 4
)

// Bits of RegStatus.
const (
	StatusAutotuneDone   = 1 << 11
	StatusAutotuneFailed = 1 << 12
)

// SensorReading is one sample of both temperature sensors.
type SensorReading struct {
	SensorD   float64   `json:"sensorD"`
	SensorA   float64   `json:"sensorA"`
	Timestamp time.Time `json:"timestamp"`
}

// GainTriple holds the PID gains, as read from or destined for registers 5-7.
type GainTriple struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`
}
