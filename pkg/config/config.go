// Package config provides configuration file support for daemonstress.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grokify/daemonstress/pkg/control"
	"github.com/grokify/daemonstress/pkg/logging"
	"github.com/grokify/daemonstress/pkg/retry"
	"github.com/grokify/daemonstress/pkg/stressor"
)

// Config represents the daemonstress configuration file.
type Config struct {
	// Stressor configuration
	Stressor StressorConfig `yaml:"stressor"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`

	// Log configuration
	Log logging.Options `yaml:"log"`

	// Control socket and PID file
	Control ControlConfig `yaml:"control"`
}

// StressorConfig holds run settings.
type StressorConfig struct {
	// DaemonWait makes every spawner reap its daemon
	DaemonWait bool `yaml:"daemonWait"`
	// Ops stops the run after this many daemons (0 = unlimited)
	Ops uint64 `yaml:"ops"`
	// Timeout stops the run after this long (0 = unlimited)
	Timeout time.Duration `yaml:"timeout"`
	// SpawnAttempts bounds retries when starting the first coordinator
	SpawnAttempts uint64 `yaml:"spawnAttempts"`
	// Backoff throttles retries after transient spawn failures
	Backoff retry.Settings `yaml:"backoff"`
}

// MetricsConfig holds the metrics and health endpoint configuration.
type MetricsConfig struct {
	// Enabled serves /metrics, /healthz and /readyz
	Enabled bool `yaml:"enabled"`
	// Port to listen on
	Port int `yaml:"port"`
}

// ControlConfig holds control server configuration.
type ControlConfig struct {
	// Enabled serves the control socket and writes the PID file
	Enabled bool `yaml:"enabled"`
	// PIDFile is the PID file path
	PIDFile string `yaml:"pidFile,omitempty"`
	// Socket is the Unix socket path
	Socket string `yaml:"socket,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Stressor: StressorConfig{
			SpawnAttempts: stressor.DefaultSpawnAttempts,
			Backoff:       retry.DefaultSettings(),
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
		Log: logging.Options{
			Level: "info",
		},
		Control: ControlConfig{
			Enabled: true,
			PIDFile: control.DefaultPIDFile,
			Socket:  control.DefaultSocketPath,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads configuration from a file, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if c.Stressor.Timeout < 0 {
		errs = append(errs, errors.New("stressor.timeout must not be negative"))
	}
	b := c.Stressor.Backoff
	if b.Base < 0 || b.Step < 0 || b.Max < 0 {
		errs = append(errs, errors.New("stressor.backoff values must not be negative"))
	}
	if b.Max > 0 && b.Base > b.Max {
		errs = append(errs, fmt.Errorf("stressor.backoff.base %s exceeds max %s", b.Base, b.Max))
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port %d out of range", c.Metrics.Port))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// RunConfig converts the stressor and log settings into a run configuration.
func (c *Config) RunConfig() stressor.RunConfig {
	return stressor.RunConfig{
		DaemonWait:    c.Stressor.DaemonWait,
		MaxOps:        c.Stressor.Ops,
		Timeout:       c.Stressor.Timeout,
		SpawnAttempts: c.Stressor.SpawnAttempts,
		Backoff:       c.Stressor.Backoff,
		LogFile:       c.Log.File,
		LogLevel:      c.Log.Level,
		LogJSON:       c.Log.JSON,
	}
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "daemonstress.yaml"
	}
	return filepath.Join(home, ".daemonstress", "config.yaml")
}

// ExampleConfig returns an example configuration as YAML string.
func ExampleConfig() string {
	cfg := DefaultConfig()
	cfg.Stressor.Ops = 100000
	cfg.Stressor.Timeout = time.Minute
	cfg.Metrics.Enabled = true
	cfg.Log.File = "/tmp/daemonstress.log"

	data, _ := yaml.Marshal(cfg)
	return string(data)
}
