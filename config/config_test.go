package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkayo32/pytake-sub013/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Engine.WindowDuration.Std())
	assert.Equal(t, 72*time.Hour, cfg.Engine.SessionTTL.Std())
	assert.Equal(t, 100, cfg.Engine.IterationCap)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval.Std())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"nats": {"url": "nats://broker:4222"},
		"http": {"addr": ":9090"},
		"engine": {"window_duration": "12h", "iteration_cap": 50},
		"flows": {"seed_dir": "/etc/pytake/flows"}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 12*time.Hour, cfg.Engine.WindowDuration.Std())
	assert.Equal(t, 50, cfg.Engine.IterationCap)
	assert.Equal(t, "/etc/pytake/flows", cfg.Flows.SeedDir)
	// Untouched fields keep their defaults.
	assert.Equal(t, 72*time.Hour, cfg.Engine.SessionTTL.Std())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"http": {"addr": ":9090"}}`), 0o600))

	t.Setenv("PYTAKE_HTTP_ADDR", ":7070")
	t.Setenv("PYTAKE_WINDOW_DURATION", "8h")
	t.Setenv("PYTAKE_ITERATION_CAP", "25")
	t.Setenv("PYTAKE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, 8*time.Hour, cfg.Engine.WindowDuration.Std())
	assert.Equal(t, 25, cfg.Engine.IterationCap)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	t.Setenv("PYTAKE_WINDOW_DURATION", "tomorrow")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"bad nats scheme", func(c *Config) { c.NATS.URL = "http://localhost:4222" }},
		{"empty http addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"zero window", func(c *Config) { c.Engine.WindowDuration = 0 }},
		{"ttl below window", func(c *Config) { c.Engine.SessionTTL = Duration(time.Hour) }},
		{"zero iteration cap", func(c *Config) { c.Engine.IterationCap = 0 }},
		{"zero sweeper interval", func(c *Config) { c.Sweeper.Interval = 0 }},
		{"negative sender rate", func(c *Config) { c.Sender.RatePerSecond = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestDurationRoundTrip(t *testing.T) {
	type wrapper struct {
		D Duration `json:"d"`
	}

	data, err := json.Marshal(wrapper{D: Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"1m30s"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"d":"24h"}`), &w))
	assert.Equal(t, 24*time.Hour, w.D.Std())

	// Raw nanoseconds are accepted for compatibility.
	require.NoError(t, json.Unmarshal([]byte(`{"d":1000000000}`), &w))
	assert.Equal(t, time.Second, w.D.Std())

	assert.Error(t, json.Unmarshal([]byte(`{"d":"soon"}`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"d":true}`), &w))
}
