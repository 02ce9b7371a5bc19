// Package daemon manages the pregen daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/pregen/internal/infra/scheduler"
	"github.com/tutu-network/pregen/internal/infra/watchdog"
)

// Config holds all daemon configuration.
type Config struct {
	API        APIConfig        `toml:"api"`
	Generation GenerationConfig `toml:"generation"`
	Store      StoreConfig      `toml:"store"`
	Host       HostConfig       `toml:"host"`
	Watchdogs  watchdog.Config  `toml:"watchdogs"`
	Logging    LoggingConfig    `toml:"logging"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// GenerationConfig controls the scheduler.
type GenerationConfig struct {
	TickInterval      string `toml:"tick_interval"`
	BatchSize         int    `toml:"batch_size"`
	Parallelism       int    `toml:"parallelism"`
	ContinueOnRestart bool   `toml:"continue_on_restart"`
	RetryBaseDelay    string `toml:"retry_base_delay"`
	RetryMaxDelay     string `toml:"retry_max_delay"`
	ProgressInterval  string `toml:"progress_interval"`
	Quiet             bool   `toml:"quiet"`
}

// StoreConfig selects where task records live.
type StoreConfig struct {
	Backend string `toml:"backend"` // "sqlite" or "json"
	Dir     string `toml:"dir"`
}

// HostConfig points at the world host and its health signals.
type HostConfig struct {
	Materializer    string `toml:"materializer"` // "http" or "synthetic"
	BaseURL         string `toml:"base_url"`
	Token           string `toml:"token"`
	Timeout         string `toml:"timeout"`
	PollTimeout     string `toml:"poll_timeout"`     // bound on the per-tick signal poll
	BreakerFailures int    `toml:"breaker_failures"` // consecutive failures that open the circuit
	BreakerReset    string `toml:"breaker_reset"`
	Sensors         bool   `toml:"sensors"` // publish CPU temperature as "thermal"
	SyntheticSeed   int64  `toml:"synthetic_seed"`
	SyntheticDelay  string `toml:"synthetic_delay"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"` // "info" or "debug"
	File  string `toml:"file"`  // also write logs here when set
}

// TelemetryConfig controls metrics and health checks.
type TelemetryConfig struct {
	Prometheus     bool   `toml:"prometheus"`
	HealthInterval string `toml:"health_interval"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	homeDir := pregenHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Generation: GenerationConfig{
			TickInterval:     "50ms",
			BatchSize:        16,
			Parallelism:      1,
			RetryBaseDelay:   "1s",
			RetryMaxDelay:    "1m",
			ProgressInterval: "30s",
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Dir:     homeDir,
		},
		Host: HostConfig{
			Materializer:    "synthetic",
			Timeout:         "30s",
			PollTimeout:     "1s",
			BreakerFailures: 5,
			BreakerReset:    "30s",
		},
		Watchdogs: watchdog.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			HealthInterval: "30s",
		},
	}
}

// LoadConfig reads config from $PREGEN_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads config from path. A missing file yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Printf("[config] WARNING: unknown keys in %s: %v", path, undecoded)
	}

	// A watchdog table that omits its threshold keeps the default one.
	defaults := watchdog.DefaultConfig()
	for key, sig := range cfg.Watchdogs {
		if def, ok := defaults[key]; ok && !md.IsDefined("watchdogs", key, "threshold") {
			sig.Threshold = def.Threshold
			cfg.Watchdogs[key] = sig
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "json":
	default:
		return fmt.Errorf("store.backend must be sqlite or json, got %q", c.Store.Backend)
	}
	switch c.Host.Materializer {
	case "synthetic":
	case "http":
		if c.Host.BaseURL == "" {
			return fmt.Errorf("host.base_url is required with the http materializer")
		}
	default:
		return fmt.Errorf("host.materializer must be http or synthetic, got %q", c.Host.Materializer)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	return nil
}

// SaveConfig writes the config to $PREGEN_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// SchedulerConfig converts the [generation] section.
func (c Config) SchedulerConfig() scheduler.Config {
	def := scheduler.DefaultConfig()
	g := c.Generation
	return scheduler.Config{
		TickInterval:      parseDuration(g.TickInterval, def.TickInterval),
		BatchSize:         g.BatchSize,
		Parallelism:       g.Parallelism,
		ContinueOnRestart: g.ContinueOnRestart,
		RetryBaseDelay:    parseDuration(g.RetryBaseDelay, def.RetryBaseDelay),
		RetryMaxDelay:     parseDuration(g.RetryMaxDelay, def.RetryMaxDelay),
		ProgressInterval:  parseDuration(g.ProgressInterval, def.ProgressInterval),
		Quiet:             g.Quiet,
	}
}

// Debug reports whether debug logging is on.
func (c Config) Debug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}

// setupLogging tees the standard logger into logging.file. The returned
// closer restores stderr-only logging.
func setupLogging(cfg LoggingConfig) (io.Closer, error) {
	if cfg.File == "" {
		return closerFunc(func() error { return nil }), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return closerFunc(func() error {
		log.SetOutput(os.Stderr)
		return f.Close()
	}), nil
}

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ConfigPath returns the path of the config file.
func ConfigPath() string {
	return filepath.Join(pregenHome(), "config.toml")
}

// pregenHome returns the pregen data directory.
func pregenHome() string {
	if env := os.Getenv("PREGEN_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pregen")
}

// PregenHome is exported for use by other packages.
func PregenHome() string {
	return pregenHome()
}
