package server

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.EngineSettings().Period)
	assert.Equal(t, 5, cfg.EngineSettings().FaultThreshold)
	assert.Equal(t, 2*time.Second, cfg.SerialConfig().ReadTimeout)
	assert.NoError(t, cfg.CycleDefaults().Validate())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
controller:
  type: demo
  read_timeout_ms: 500
cycle:
  high_temp: 90
  target_cycles: 3
logging:
  sink: csv
  path: /tmp/caramat
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))
	t.Setenv("ENGINE_PERIOD_MS", "250")
	t.Setenv("VALKEY_DB", "2")
	t.Setenv("LISTEN_ADDR", ":9090")

	cfg := LoadConfig(path)

	assert.Equal(t, "demo", cfg.Controller.Type)
	assert.Equal(t, 500, cfg.Controller.ReadTimeoutMs)
	assert.Equal(t, 115200, cfg.Controller.BaudRate, "unset fields keep defaults")
	assert.Equal(t, 90.0, cfg.Cycle.HighTemp)
	assert.Equal(t, 30.0, cfg.Cycle.LowTemp)
	assert.Equal(t, uint(3), cfg.Cycle.TargetCycles)
	assert.Equal(t, "csv", cfg.Logging.Sink)
	assert.Equal(t, 250, cfg.Engine.PeriodMs)
	assert.Equal(t, 2, cfg.Logging.Valkey.DB)
	assert.Equal(t, ":9090", cfg.ListenAddr())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONTROLLER_PORT=/dev/ttyACM7\n"), 0644))
	// godotenv never overrides variables already present, so register the
	// key with t.Setenv for cleanup and clear it before loading.
	t.Setenv("CONTROLLER_PORT", "")
	os.Unsetenv("CONTROLLER_PORT")

	cfg := LoadConfig(path)
	assert.Equal(t, "/dev/ttyACM7", cfg.Controller.PortPath)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("controller: [oops"), 0644))

	cfg := LoadConfig(path)
	assert.Equal(t, DefaultConfig().Controller, cfg.Controller)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown controller", func(c *Config) { c.Controller.Type = "modbus" }},
		{"serial without port", func(c *Config) { c.Controller.PortPath = "" }},
		{"zero baud", func(c *Config) { c.Controller.BaudRate = 0 }},
		{"zero timeout", func(c *Config) { c.Controller.ReadTimeoutMs = 0 }},
		{"zero period", func(c *Config) { c.Engine.PeriodMs = 0 }},
		{"unknown sink", func(c *Config) { c.Logging.Sink = "influx" }},
		{"no listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Controller.Type = "demo"
	cfg.Controller.PortPath = ""
	assert.NoError(t, cfg.Validate(), "demo controller needs no port")
}

func TestConfig_UpdateFromJSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Valkey.Password = "secret"

	err := cfg.UpdateFromJSON([]byte(`{"cycle":{"highTemp":95,"targetCycles":4},"engine":{"periodMs":500}}`))
	require.NoError(t, err)

	assert.Equal(t, 95.0, cfg.Cycle.HighTemp)
	assert.Equal(t, uint(4), cfg.Cycle.TargetCycles)
	assert.Equal(t, 30.0, cfg.Cycle.LowTemp, "merge keeps sibling fields")
	assert.Equal(t, 500, cfg.Engine.PeriodMs)
	assert.Equal(t, 5, cfg.Engine.FaultThreshold)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Controller.PortPath)
	assert.Equal(t, "secret", cfg.Logging.Valkey.Password, "password is never exposed over JSON")
}

func TestConfig_UpdateFromJSON_Rejected(t *testing.T) {
	cfg := DefaultConfig()

	assert.Error(t, cfg.UpdateFromJSON([]byte(`not json`)))
	assert.Error(t, cfg.UpdateFromJSON([]byte(`{"controller":{"type":"bogus"}}`)))
	assert.Equal(t, "serial", cfg.Controller.Type, "failed update leaves config unchanged")
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.path = path
	cfg.Cycle.SwitchoverPeriod = 12
	cfg.Engine.Monitor = true
	require.NoError(t, cfg.Save())

	loaded := LoadConfig(path)
	assert.Equal(t, 12.0, loaded.Cycle.SwitchoverPeriod)
	assert.True(t, loaded.Engine.Monitor)
}

func TestConfig_SaveWithoutPathUsesDefault(t *testing.T) {
	orig := defaultConfigPath
	defaultConfigPath = filepath.Join(t.TempDir(), "config.yaml")
	t.Cleanup(func() { defaultConfigPath = orig })

	cfg := DefaultConfig()
	require.NoError(t, cfg.Save())
	assert.FileExists(t, defaultConfigPath)
	assert.Empty(t, cfg.path, "save leaves the config's own path untouched")
}

func TestConfig_ConcurrentAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.yaml")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patch := fmt.Sprintf(`{"server":{"listenAddr":":%d"},"cycle":{"targetCycles":%d}}`, 9000+i, i+1)
			assert.NoError(t, cfg.UpdateFromJSON([]byte(patch)))
			assert.NoError(t, cfg.Save())
			assert.NotEmpty(t, cfg.ListenAddr())
			_, err := cfg.ToJSON()
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	loaded := LoadConfig(cfg.path)
	assert.Equal(t, cfg.ListenAddr(), loaded.Server.ListenAddr)
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0, "y": 2.0},
		"b": "keep",
	}
	deepMerge(dst, map[string]interface{}{
		"a": map[string]interface{}{"y": 3.0},
		"c": true,
	})
	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0, "y": 3.0},
		"b": "keep",
		"c": true,
	}, dst)
}
