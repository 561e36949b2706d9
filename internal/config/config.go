// Package config loads circuitshell configuration from YAML with
// environment overrides, and resolves board profiles into hardware
// configure payloads.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"circuitshell/internal/logging"
)

// Config holds all circuitshell configuration.
type Config struct {
	// StateDir holds logs, history, and other per-user state.
	StateDir string `yaml:"state_dir"`

	// Worker configures how the runtime worker is hosted.
	Worker WorkerConfig `yaml:"worker"`

	// Session configures controller-side behavior.
	Session SessionConfig `yaml:"session"`

	// Board selects the simulated board profile.
	Board BoardConfig `yaml:"board"`

	// Logging configures the categorized file logs.
	Logging LoggingConfig `yaml:"logging"`
}

// WorkerConfig configures the runtime worker.
type WorkerConfig struct {
	// InProcess hosts the worker inside the shell process instead of
	// spawning a subprocess. Mainly for constrained environments.
	InProcess bool `yaml:"in_process"`

	// Command and Args name the worker subprocess. Empty Command means
	// re-exec the current binary with the worker subcommand.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// HeapSizeBytes is the advisory interpreter heap size.
	HeapSizeBytes int `yaml:"heap_size_bytes"`
}

// SessionConfig configures the session controller.
type SessionConfig struct {
	CommandTimeout string `yaml:"command_timeout"`
	SweepInterval  string `yaml:"sweep_interval"`
	HistoryLimit   int    `yaml:"history_limit"`
	Mode           string `yaml:"mode"` // shell | device-repl

	// DeviceCommand (+args) is the external REPL to attach to in
	// device-repl mode, run on a pty with raw keystroke forwarding.
	DeviceCommand string   `yaml:"device_command"`
	DeviceArgs    []string `yaml:"device_args"`
}

// BoardConfig selects the hardware profile.
type BoardConfig struct {
	// ProfilePath points at a YAML board profile. Empty means the
	// built-in default board.
	ProfilePath string `yaml:"profile_path"`

	// WatchProfile reloads the profile when the file changes.
	WatchProfile bool `yaml:"watch_profile"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool     `yaml:"debug_mode"`
	Level      string   `yaml:"level"`
	Categories []string `yaml:"categories"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		StateDir: filepath.Join(home, ".circuitshell"),
		Worker: WorkerConfig{
			HeapSizeBytes: 128 * 1024,
		},
		Session: SessionConfig{
			CommandTimeout: "10s",
			SweepInterval:  "30s",
			HistoryLimit:   500,
			Mode:           "shell",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".circuitshell", "config.yaml")
}

// Load reads configuration from a YAML file, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies CIRCUITSHELL_* environment overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("CIRCUITSHELL_STATE_DIR"); dir != "" {
		c.StateDir = dir
	}
	if cmd := os.Getenv("CIRCUITSHELL_WORKER_CMD"); cmd != "" {
		c.Worker.Command = cmd
	}
	if heap := os.Getenv("CIRCUITSHELL_HEAP_BYTES"); heap != "" {
		if n, err := strconv.Atoi(heap); err == nil && n > 0 {
			c.Worker.HeapSizeBytes = n
		}
	}
	if profile := os.Getenv("CIRCUITSHELL_BOARD_PROFILE"); profile != "" {
		c.Board.ProfilePath = profile
	}
	if timeout := os.Getenv("CIRCUITSHELL_COMMAND_TIMEOUT"); timeout != "" {
		c.Session.CommandTimeout = timeout
	}
	if debug := os.Getenv("CIRCUITSHELL_DEBUG"); debug == "1" || debug == "true" {
		c.Logging.DebugMode = true
	}
}

// GetCommandTimeout returns the per-command deadline as a duration.
func (c *Config) GetCommandTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Session.CommandTimeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// GetSweepInterval returns the expiry sweep interval as a duration.
func (c *Config) GetSweepInterval() time.Duration {
	if d, err := time.ParseDuration(c.Session.SweepInterval); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// LoggingConfig converts the YAML logging section to the logging
// package's config type.
func (c *Config) LoggingConfig() logging.Config {
	categories := make(map[string]bool, len(c.Logging.Categories))
	for _, name := range c.Logging.Categories {
		categories[name] = true
	}
	return logging.Config{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		Categories: categories,
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must not be empty")
	}
	if c.Worker.HeapSizeBytes < 0 {
		return fmt.Errorf("worker.heap_size_bytes must not be negative")
	}
	if _, err := time.ParseDuration(c.Session.CommandTimeout); err != nil {
		return fmt.Errorf("session.command_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Session.SweepInterval); err != nil {
		return fmt.Errorf("session.sweep_interval: %w", err)
	}
	switch c.Session.Mode {
	case "shell":
	case "device-repl":
		if c.Session.DeviceCommand == "" {
			return fmt.Errorf("session.device_command is required in device-repl mode")
		}
	default:
		return fmt.Errorf("session.mode must be shell or device-repl, got %q", c.Session.Mode)
	}
	return nil
}
