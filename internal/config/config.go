// Package config loads the tickbridge configuration file.
//
// The file is YAML. Unknown keys are rejected so typos fail loudly instead
// of silently falling back to defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tickbridge/internal/engine"
	"github.com/roach88/tickbridge/internal/logging"
)

// Config holds every tunable of a run.
type Config struct {
	// TickInterval is how often the realtime loop calls Tick.
	TickInterval time.Duration `yaml:"tick_interval"`

	// FixedStep is the delta handed to fixed-step routines.
	FixedStep time.Duration `yaml:"fixed_step"`

	// ReadWorkers bounds the read phase fan-out.
	ReadWorkers int `yaml:"read_workers"`

	// WatchThrottle runs watches every n-th pass. 1 means every pass.
	WatchThrottle int `yaml:"watch_throttle"`

	// JournalPath is the SQLite tick journal. Empty disables journaling.
	JournalPath string `yaml:"journal_path,omitempty"`

	// MetricsAddr serves /metrics and /status when set (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		TickInterval:  engine.DefaultTickInterval,
		FixedStep:     engine.DefaultFixedStep,
		ReadWorkers:   engine.DefaultReadWorkers,
		WatchThrottle: 1,
		LogLevel:      "info",
	}
}

// Load reads path and overlays it on Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result. An empty
// document yields Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var problems []error
	if c.TickInterval <= 0 {
		problems = append(problems, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval))
	}
	if c.FixedStep <= 0 {
		problems = append(problems, fmt.Errorf("fixed_step must be positive, got %s", c.FixedStep))
	}
	if c.ReadWorkers < 0 {
		problems = append(problems, fmt.Errorf("read_workers must not be negative, got %d", c.ReadWorkers))
	}
	if c.WatchThrottle < 1 {
		problems = append(problems, fmt.Errorf("watch_throttle must be at least 1, got %d", c.WatchThrottle))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err)
	}
	return errors.Join(problems...)
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	lvl, _ := logging.ParseLevel(c.LogLevel)
	return lvl
}

// EngineOptions translates the config into engine options.
func (c Config) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithTickInterval(c.TickInterval),
		engine.WithFixedStep(c.FixedStep),
		engine.WithReadWorkers(c.ReadWorkers),
		engine.WithWatchThrottle(c.WatchThrottle),
	}
}
