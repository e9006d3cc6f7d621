package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xkayo32/pytake-sub013/errors"
)

// envPrefix namespaces the environment overrides.
const envPrefix = "PYTAKE"

// Duration is a time.Duration that marshals as a Go duration string.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string ("24h") or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete service configuration.
type Config struct {
	NATS    NATSConfig    `json:"nats"`
	HTTP    HTTPConfig    `json:"http"`
	Engine  EngineConfig  `json:"engine"`
	Sweeper SweeperConfig `json:"sweeper"`
	Sender  SenderConfig  `json:"sender"`
	Flows   FlowsConfig   `json:"flows"`
	Logging LoggingConfig `json:"logging"`
}

// NATSConfig defines the NATS connection settings.
type NATSConfig struct {
	URL           string   `json:"url"`
	Name          string   `json:"name,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
}

// HTTPConfig defines the gateway listener.
type HTTPConfig struct {
	Addr            string   `json:"addr"`
	RequestTimeout  Duration `json:"request_timeout,omitempty"`
	MaxRequestBytes int64    `json:"max_request_bytes,omitempty"`
	ConflictRetries int      `json:"conflict_retries,omitempty"`
}

// EngineConfig tunes flow execution.
type EngineConfig struct {
	WindowDuration Duration `json:"window_duration,omitempty"`
	SessionTTL     Duration `json:"session_ttl,omitempty"`
	IterationCap   int      `json:"iteration_cap,omitempty"`
}

// SweeperConfig tunes the background reconciler.
type SweeperConfig struct {
	Interval    Duration `json:"interval,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	GCGrace     Duration `json:"gc_grace,omitempty"`
}

// SenderConfig tunes outbound publishing.
type SenderConfig struct {
	RatePerSecond float64 `json:"rate_per_second,omitempty"`
	Burst         int     `json:"burst,omitempty"`
}

// FlowsConfig controls flow definition seeding.
type FlowsConfig struct {
	// SeedDir is scanned at startup for YAML flow definitions to publish.
	// Empty disables seeding.
	SeedDir string `json:"seed_dir,omitempty"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // json, text
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "pytake",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RequestTimeout:  Duration(30 * time.Second),
			MaxRequestBytes: 64 << 10,
			ConflictRetries: 3,
		},
		Engine: EngineConfig{
			WindowDuration: Duration(24 * time.Hour),
			SessionTTL:     Duration(72 * time.Hour),
			IterationCap:   100,
		},
		Sweeper: SweeperConfig{
			Interval:    Duration(time.Minute),
			Concurrency: 4,
			GCGrace:     Duration(7 * 24 * time.Hour),
		},
		Sender: SenderConfig{
			RatePerSecond: 50,
			Burst:         20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional JSON file at
// path (empty path skips the file), and environment overrides, then
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("read %s", path))
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("parse %s", path))
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if val := os.Getenv(envPrefix + "_" + key); val != "" {
			*dst = val
		}
	}

	var firstErr error
	setDuration := func(key string, dst *Duration) {
		val := os.Getenv(envPrefix + "_" + key)
		if val == "" {
			return
		}
		parsed, err := time.ParseDuration(val)
		if err != nil && firstErr == nil {
			firstErr = errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("env %s_%s", envPrefix, key))
			return
		}
		*dst = Duration(parsed)
	}
	setInt := func(key string, dst *int) {
		val := os.Getenv(envPrefix + "_" + key)
		if val == "" {
			return
		}
		parsed, err := strconv.Atoi(val)
		if err != nil && firstErr == nil {
			firstErr = errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("env %s_%s", envPrefix, key))
			return
		}
		*dst = parsed
	}

	setString("NATS_URL", &cfg.NATS.URL)
	setString("NATS_USERNAME", &cfg.NATS.Username)
	setString("NATS_PASSWORD", &cfg.NATS.Password)
	setString("NATS_TOKEN", &cfg.NATS.Token)

	setString("HTTP_ADDR", &cfg.HTTP.Addr)
	setDuration("HTTP_REQUEST_TIMEOUT", &cfg.HTTP.RequestTimeout)

	setDuration("WINDOW_DURATION", &cfg.Engine.WindowDuration)
	setDuration("SESSION_TTL", &cfg.Engine.SessionTTL)
	setInt("ITERATION_CAP", &cfg.Engine.IterationCap)

	setDuration("SWEEPER_INTERVAL", &cfg.Sweeper.Interval)
	setInt("SWEEPER_CONCURRENCY", &cfg.Sweeper.Concurrency)

	setString("FLOW_SEED_DIR", &cfg.Flows.SeedDir)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)

	return firstErr
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format, args...), "config", "Validate", "config validation")
	}

	if c.NATS.URL == "" {
		return invalid("nats.url is required")
	}
	if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return invalid("nats.url %q must use the nats:// or tls:// scheme", c.NATS.URL)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr is required")
	}
	if c.Engine.WindowDuration <= 0 {
		return invalid("engine.window_duration must be positive")
	}
	if c.Engine.SessionTTL.Std() < c.Engine.WindowDuration.Std() {
		return invalid("engine.session_ttl must be at least engine.window_duration")
	}
	if c.Engine.IterationCap <= 0 {
		return invalid("engine.iteration_cap must be positive")
	}
	if c.Sweeper.Interval <= 0 {
		return invalid("sweeper.interval must be positive")
	}
	if c.Sweeper.Concurrency <= 0 {
		return invalid("sweeper.concurrency must be positive")
	}
	if c.Sender.RatePerSecond < 0 {
		return invalid("sender.rate_per_second must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return invalid("logging.format %q is not one of json, text", c.Logging.Format)
	}
	return nil
}

// SlogLevel maps the configured level onto slog's scale.
func (c *Config) SlogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
