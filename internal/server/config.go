package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/caramat/internal/controller"
	"github.com/shaunagostinho/caramat/internal/engine"
	"github.com/shaunagostinho/caramat/internal/logger"
)

// Config holds all application configuration.
type Config struct {
	mu sync.RWMutex

	Controller ControllerConfig `yaml:"controller" json:"controller"`
	Engine     EngineConfig     `yaml:"engine" json:"engine"`

	// Cycle holds the default parameters offered for a new cycle run.
	Cycle engine.CycleConfig `yaml:"cycle" json:"cycle"`

	Logging logger.Config `yaml:"logging" json:"logging"`
	Server  ServerConfig  `yaml:"server" json:"server"`

	path string // file path for save/load
}

type ControllerConfig struct {
	Type          string `yaml:"type" json:"type"`          // "serial" or "demo"
	PortPath      string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	BaudRate      int    `yaml:"baud_rate" json:"baudRate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`
}

type EngineConfig struct {
	PeriodMs       int  `yaml:"period_ms" json:"periodMs"`
	FaultThreshold int  `yaml:"fault_threshold" json:"faultThreshold"`
	Monitor        bool `yaml:"monitor" json:"monitor"` // poll from startup without a procedure
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			Type:          "serial",
			PortPath:      "/dev/ttyUSB0",
			BaudRate:      115200,
			ReadTimeoutMs: 2000,
		},
		Engine: EngineConfig{
			PeriodMs:       1000,
			FaultThreshold: 5,
		},
		Cycle: engine.CycleConfig{
			HighTemp:            80,
			LowTemp:             30,
			PercentageThreshold: 95,
			SwitchoverPeriod:    30,
			TargetCycles:        10,
		},
		Logging: logger.Config{
			Sink: "valkey",
			Path: "/var/log/caramat",
			Valkey: logger.ValkeyConfig{
				Addr:       "localhost:6379",
				CounterKey: "data_counter",
			},
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// .env next to the config, then in CWD. Real env takes precedence.
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if _, err := os.Stat(ep); err != nil {
			continue
		}
		if err := godotenv.Load(ep); err != nil {
			log.Printf("[config] error loading %s: %v", ep, err)
			continue
		}
		log.Printf("[config] loaded .env from %s", ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: CONTROLLER_TYPE, CONTROLLER_PORT, CONTROLLER_BAUD,
// CONTROLLER_READ_TIMEOUT_MS, ENGINE_PERIOD_MS, LOG_SINK, LOG_PATH,
// VALKEY_ADDR, VALKEY_PASSWORD, VALKEY_DB, LISTEN_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONTROLLER_TYPE"); v != "" {
		c.Controller.Type = v
	}
	if v := os.Getenv("CONTROLLER_PORT"); v != "" {
		c.Controller.PortPath = v
	}
	if v := os.Getenv("CONTROLLER_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Controller.BaudRate = n
		}
	}
	if v := os.Getenv("CONTROLLER_READ_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Controller.ReadTimeoutMs = n
		}
	}
	if v := os.Getenv("ENGINE_PERIOD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.PeriodMs = n
		}
	}
	if v := os.Getenv("LOG_SINK"); v != "" {
		c.Logging.Sink = v
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("VALKEY_ADDR"); v != "" {
		c.Logging.Valkey.Addr = v
	}
	if v := os.Getenv("VALKEY_PASSWORD"); v != "" {
		c.Logging.Valkey.Password = v
	}
	if v := os.Getenv("VALKEY_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Valkey.DB = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

// Validate returns the first configuration problem found.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	switch c.Controller.Type {
	case "serial":
		if c.Controller.PortPath == "" {
			return errors.New("controller.port_path required for serial controller")
		}
		if c.Controller.BaudRate <= 0 {
			return errors.New("controller.baud_rate must be > 0")
		}
	case "demo":
	default:
		return fmt.Errorf("controller.type %q: must be serial or demo", c.Controller.Type)
	}
	if c.Controller.ReadTimeoutMs <= 0 {
		return errors.New("controller.read_timeout_ms must be > 0")
	}
	if c.Engine.PeriodMs <= 0 {
		return errors.New("engine.period_ms must be > 0")
	}
	switch c.Logging.Sink {
	case "valkey", "csv", "sqlite", "none":
	default:
		return fmt.Errorf("logging.sink %q: must be valkey, csv, sqlite or none", c.Logging.Sink)
	}
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr required")
	}
	return nil
}

// SerialConfig converts the controller section for controller.OpenSerial.
func (c *Config) SerialConfig() controller.SerialConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return controller.SerialConfig{
		PortPath:    c.Controller.PortPath,
		BaudRate:    c.Controller.BaudRate,
		ReadTimeout: time.Duration(c.Controller.ReadTimeoutMs) * time.Millisecond,
	}
}

// EngineSettings converts the engine section for engine.New.
func (c *Config) EngineSettings() engine.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return engine.Config{
		Period:         time.Duration(c.Engine.PeriodMs) * time.Millisecond,
		FaultThreshold: c.Engine.FaultThreshold,
	}
}

// CycleDefaults returns the configured default cycle parameters.
func (c *Config) CycleDefaults() engine.CycleConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Cycle
}

// defaultConfigPath is where Save writes a config that was not loaded
// from a file.
var defaultConfigPath = "/etc/caramat/config.yaml"

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = defaultConfigPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.ListenAddr
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port paths, baud rates, logging).
// An update that fails validation leaves the config unchanged.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	next := Config{
		Controller: c.Controller,
		Engine:     c.Engine,
		Cycle:      c.Cycle,
		Logging:    c.Logging,
		Server:     c.Server,
	}
	if err := json.Unmarshal(merged, &next); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	if err := next.validate(); err != nil {
		return err
	}
	c.Controller = next.Controller
	c.Engine = next.Engine
	c.Cycle = next.Cycle
	c.Logging = next.Logging
	c.Server = next.Server
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
