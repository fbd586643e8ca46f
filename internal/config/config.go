package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// SchedulerConfig holds the admission and resource limits.
type SchedulerConfig struct {
	MaxParallel        int               `yaml:"max_parallel"`         // concurrent running tasks (default 4)
	MaxConcurrentUnits int               `yaml:"max_concurrent_units"` // concurrently loaded models (default 2)
	IdleSweepInterval  Duration          `yaml:"idle_sweep_interval"`  // how often idle models are swept (default 60s)
	IdleThreshold      Duration          `yaml:"idle_threshold"`       // unused time before a model is evicted (default 300s)
	PinRunningUnits    bool              `yaml:"pin_running_units"`    // never evict a model a running task uses (default true)
	TaskTimeout        Duration          `yaml:"task_timeout"`         // executor deadline per task, 0 = none
	HistoryLimit       int               `yaml:"history_limit"`        // finished tasks kept in memory (default 1000)
	DefaultModel       string            `yaml:"default_model"`
	ModeModels         map[string]string `yaml:"mode_models"`
	RoutingExpr        string            `yaml:"routing_expr"` // optional JavaScript routing expression
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxParallel:        4,
		MaxConcurrentUnits: 2,
		IdleSweepInterval:  Duration(60 * time.Second),
		IdleThreshold:      Duration(300 * time.Second),
		PinRunningUnits:    true,
		HistoryLimit:       1000,
	}
}

// Validate checks the limits.
func (c SchedulerConfig) Validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("%w: max_parallel must be >= 1, got %d", ErrInvalid, c.MaxParallel)
	}
	if c.MaxConcurrentUnits < 1 {
		return fmt.Errorf("%w: max_concurrent_units must be >= 1, got %d", ErrInvalid, c.MaxConcurrentUnits)
	}
	if c.IdleSweepInterval <= 0 {
		return fmt.Errorf("%w: idle_sweep_interval must be positive", ErrInvalid)
	}
	if c.IdleThreshold <= 0 {
		return fmt.Errorf("%w: idle_threshold must be positive", ErrInvalid)
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("%w: task_timeout must not be negative", ErrInvalid)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("%w: history_limit must not be negative", ErrInvalid)
	}
	return nil
}

// ServerConfig holds configuration for the agentq server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8090")
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json
	DBPath    string `yaml:"db_path"`    // History database path (default ~/.agentq/history.db, ":memory:" for testing)
	Executor  string `yaml:"executor"`   // Executor backend: ollama, echo
	OllamaURL string `yaml:"ollama_url"` // Ollama base URL

	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8090",
		LogLevel:  "info",
		LogFormat: "text",
		Executor:  "ollama",
		OllamaURL: "http://localhost:11434",
		Scheduler: DefaultSchedulerConfig(),
	}
}

// Validate checks the server and scheduler settings.
func (c ServerConfig) Validate() error {
	switch c.Executor {
	case "ollama", "echo":
	default:
		return fmt.Errorf("%w: executor must be ollama or echo, got %q", ErrInvalid, c.Executor)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// LoadFile reads a YAML config file over the defaults. Keys missing from the
// file keep their default values.
func LoadFile(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration is a time.Duration that reads Go duration strings ("90s", "5m")
// or plain integers (seconds) from YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs int64
	if err := node.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
