// Package logger persists sensor readings. Every sink implements the same
// append contract: one call per reading, returning an opaque key.
package logger

import (
	"fmt"

	"github.com/shaunagostinho/caramat/internal/controller"
)

// Sink stores readings.
type Sink interface {
	// Append stores r and returns the key it was stored under.
	Append(r controller.SensorReading) (string, error)
	Close() error
}

// Config selects and configures a sink.
type Config struct {
	Sink   string       `yaml:"sink" json:"sink"` // "valkey", "csv", "sqlite" or "none"
	Path   string       `yaml:"path" json:"path"` // CSV directory or SQLite file
	Valkey ValkeyConfig `yaml:"valkey" json:"valkey"`
}

// timestampLayout is the wall-clock format stored alongside each reading.
const timestampLayout = "2006-01-02 15:04:05"

// Open builds the sink named by cfg.Sink.
func Open(cfg Config) (Sink, error) {
	switch cfg.Sink {
	case "valkey", "":
		return NewValkey(cfg.Valkey)
	case "csv":
		return NewCSV(cfg.Path), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "none":
		return Discard{}, nil
	}
	return nil, fmt.Errorf("logger: unknown sink %q", cfg.Sink)
}

// Discard drops every reading.
type Discard struct{}

func (Discard) Append(controller.SensorReading) (string, error) { return "", nil }
func (Discard) Close() error                                    { return nil }
