// Package config loads and validates the relay TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Categories every task must fall into, in declaration order. The order is
// load-bearing: the classifier breaks score ties by position in this list.
var Categories = []string{"planning", "reasoning", "coding", "review", "quick", "vision", "image_gen"}

type Config struct {
	General    General             `toml:"general"`
	Router     Router              `toml:"router"`
	Scheduler  Scheduler           `toml:"scheduler"`
	Executor   Executor            `toml:"executor"`
	API        API                 `toml:"api"`
	Gateway    Gateway             `toml:"gateway"`
	Models     map[string]Model    `toml:"models"`
	Categories map[string][]string `toml:"categories"`
	Agents     map[string]Agent    `toml:"agents"`
}

type General struct {
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
}

type Router struct {
	DefaultCategory string `toml:"default_category"`
	// AssistModel, when set, routes classification through a local model
	// first and falls back to keyword scoring on bad output.
	AssistModel string `toml:"assist_model"`
}

type Scheduler struct {
	WeightCritical  int      `toml:"weight_critical"`
	WeightHigh      int      `toml:"weight_high"`
	WeightMedium    int      `toml:"weight_medium"`
	WeightLow       int      `toml:"weight_low"`
	DefaultEstimate Duration `toml:"default_estimate"`
}

type Executor struct {
	PollInterval            Duration `toml:"poll_interval"`
	HealthCheckInterval     Duration `toml:"health_check_interval"`
	GracefulShutdownTimeout Duration `toml:"graceful_shutdown_timeout"`
	MaxConcurrent           int      `toml:"max_concurrent"`
	DefaultMaxAttempts      int      `toml:"default_max_attempts"`
	// RetryBackoffBase delays a re-queued attempt by base*2^(n-1). Zero keeps
	// the immediate re-queue behaviour.
	RetryBackoffBase Duration `toml:"retry_backoff_base"`
	RetryMaxDelay    Duration `toml:"retry_max_delay"`
}

// Model describes one backend endpoint and its rate window.
type Model struct {
	MaxRequests       int      `toml:"max_requests"`
	Window            Duration `toml:"window"`
	Backend           string   `toml:"backend"` // "process", "http", "local"
	Cmd               string   `toml:"cmd"`
	Args              []string `toml:"args"`
	Endpoint          string   `toml:"endpoint"`
	APIKeyEnv         string   `toml:"api_key_env"`
	Timeout           Duration `toml:"timeout"`
	CostInputPerMtok  float64  `toml:"cost_input_per_mtok"`
	CostOutputPerMtok float64  `toml:"cost_output_per_mtok"`
}

type API struct {
	Bind             string `toml:"bind"`
	MaxWSConnections int    `toml:"max_ws_connections"`
}

type Gateway struct {
	Bind           string  `toml:"bind"`
	PerRemoteRPS   float64 `toml:"per_remote_rps"`
	PerRemoteBurst int     `toml:"per_remote_burst"`
}

type Agent struct {
	Model string `toml:"model"`
	Role  string `toml:"role"`
}

// Load reads and validates a relay TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.DataDir == "" {
		cfg.General.DataDir = "~/.relay"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.Router.DefaultCategory == "" {
		cfg.Router.DefaultCategory = "quick"
	}
	if cfg.Scheduler.WeightCritical == 0 {
		cfg.Scheduler.WeightCritical = 1000
	}
	if cfg.Scheduler.WeightHigh == 0 {
		cfg.Scheduler.WeightHigh = 100
	}
	if cfg.Scheduler.WeightMedium == 0 {
		cfg.Scheduler.WeightMedium = 10
	}
	if cfg.Scheduler.WeightLow == 0 {
		cfg.Scheduler.WeightLow = 1
	}
	if cfg.Scheduler.DefaultEstimate.Duration == 0 {
		cfg.Scheduler.DefaultEstimate.Duration = 60 * time.Second
	}
	if cfg.Executor.PollInterval.Duration == 0 {
		cfg.Executor.PollInterval.Duration = 5 * time.Second
	}
	if cfg.Executor.HealthCheckInterval.Duration == 0 {
		cfg.Executor.HealthCheckInterval.Duration = 30 * time.Second
	}
	if cfg.Executor.GracefulShutdownTimeout.Duration == 0 {
		cfg.Executor.GracefulShutdownTimeout.Duration = 30 * time.Second
	}
	if cfg.Executor.MaxConcurrent == 0 {
		cfg.Executor.MaxConcurrent = 3
	}
	if cfg.Executor.DefaultMaxAttempts == 0 {
		cfg.Executor.DefaultMaxAttempts = 3
	}
	if cfg.Executor.RetryMaxDelay.Duration == 0 {
		cfg.Executor.RetryMaxDelay.Duration = 10 * time.Minute
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:7377"
	}
	if cfg.API.MaxWSConnections == 0 {
		cfg.API.MaxWSConnections = 32
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "127.0.0.1:9999"
	}
	if cfg.Gateway.PerRemoteRPS == 0 {
		cfg.Gateway.PerRemoteRPS = 10
	}
	if cfg.Gateway.PerRemoteBurst == 0 {
		cfg.Gateway.PerRemoteBurst = 20
	}

	for key, m := range cfg.Models {
		if m.MaxRequests == 0 {
			m.MaxRequests = 50
		}
		if m.Window.Duration == 0 {
			m.Window.Duration = time.Hour
		}
		if m.Backend == "" {
			m.Backend = "local"
		}
		if m.Timeout.Duration == 0 {
			m.Timeout.Duration = 120 * time.Second
		}
		cfg.Models[key] = m
	}
}

func validate(cfg *Config) error {
	known := make(map[string]struct{}, len(Categories))
	for _, c := range Categories {
		known[c] = struct{}{}
	}

	if _, ok := known[cfg.Router.DefaultCategory]; !ok {
		return fmt.Errorf("router default_category %q is not a known category", cfg.Router.DefaultCategory)
	}

	for category, models := range cfg.Categories {
		if _, ok := known[category]; !ok {
			return fmt.Errorf("categories section references unknown category %q", category)
		}
		if len(models) == 0 {
			return fmt.Errorf("category %q has no candidate models", category)
		}
		for _, m := range models {
			if _, ok := cfg.Models[m]; !ok {
				return fmt.Errorf("category %q references unknown model %q", category, m)
			}
		}
	}

	for key, m := range cfg.Models {
		switch m.Backend {
		case "process":
			if m.Cmd == "" {
				return fmt.Errorf("model %q uses the process backend but sets no cmd", key)
			}
		case "http":
			if m.Endpoint == "" {
				return fmt.Errorf("model %q uses the http backend but sets no endpoint", key)
			}
		case "local":
		default:
			return fmt.Errorf("model %q has unknown backend %q", key, m.Backend)
		}
		if m.MaxRequests < 0 {
			return fmt.Errorf("model %q has negative max_requests", key)
		}
	}

	for name, a := range cfg.Agents {
		if a.Model == "" {
			return fmt.Errorf("agent %q sets no model", name)
		}
		if _, ok := cfg.Models[a.Model]; !ok {
			return fmt.Errorf("agent %q references unknown model %q", name, a.Model)
		}
	}

	if cfg.Executor.MaxConcurrent < 1 {
		return fmt.Errorf("executor max_concurrent must be at least 1")
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// DataDir returns the expanded per-user state directory.
func (c *Config) DataDir() string {
	return ExpandHome(c.General.DataDir)
}

// StorePath returns the task queue database path inside the data directory.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir(), "task-queue.db")
}

// PIDPath returns the executor PID file path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir(), "executor.pid")
}

// StatusPath returns the executor status snapshot path.
func (c *Config) StatusPath() string {
	return filepath.Join(c.DataDir(), "executor.status.json")
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	return ExpandHome(filepath.Join("~/.relay", "relay.toml"))
}
