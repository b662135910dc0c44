// Package config provides configuration types and defaults for syscore.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/syscore/internal/log"
)

// Config holds all configuration options for syscore.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
	Watch     WatchConfig     `mapstructure:"watch"`
}

// SchedulerConfig holds scheduler and demo unit settings.
type SchedulerConfig struct {
	// MaxWorkers caps concurrent units. 0 sizes the pool to the unit count.
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers"`

	// MaxDelay is the upper bound of the demo units' simulated latency.
	// Default: 3s
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`

	// Manifest is a graph definition file used when run is not given one.
	// Empty runs the built-in demo graph.
	Manifest string `mapstructure:"manifest" yaml:"manifest,omitempty"`

	// GraphCacheTTL bounds reuse of a compiled graph.
	// Default: 5m
	GraphCacheTTL time.Duration `mapstructure:"graph_cache_ttl" yaml:"graph_cache_ttl"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/syscore/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// LogConfig holds debug log settings.
type LogConfig struct {
	// Level is the minimum level written: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Path is the debug log file. Default: debug.log
	Path string `mapstructure:"path"`
}

// WatchConfig holds settings for run --watch.
type WatchConfig struct {
	// Debounce coalesces rapid manifest writes into one re-run.
	// Default: 200ms
	Debounce time.Duration `mapstructure:"debounce"`
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/syscore/traces/traces.jsonl or empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "syscore", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Scheduler: SchedulerConfig{
			MaxWorkers:    0,
			MaxDelay:      3 * time.Second,
			GraphCacheTTL: 5 * time.Minute,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from home dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Log: LogConfig{
			Level: "debug",
			Path:  "debug.log",
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
	}
}

// Validate checks every section and returns all problems found.
func (c Config) Validate() error {
	return errors.Join(
		ValidateScheduler(c.Scheduler),
		ValidateTracing(c.Tracing),
		ValidateLog(c.Log),
		ValidateWatch(c.Watch),
	)
}

// ValidateScheduler checks scheduler configuration for errors.
func ValidateScheduler(s SchedulerConfig) error {
	if s.MaxWorkers < 0 {
		return fmt.Errorf("scheduler.max_workers must be >= 0, got %d", s.MaxWorkers)
	}
	if s.MaxDelay < 0 {
		return fmt.Errorf("scheduler.max_delay must be >= 0, got %s", s.MaxDelay)
	}
	if s.GraphCacheTTL < 0 {
		return fmt.Errorf("scheduler.graph_cache_ttl must be >= 0, got %s", s.GraphCacheTTL)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// ValidateLog checks log configuration for errors.
func ValidateLog(l LogConfig) error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", l.Level)
	}
}

// ValidateWatch checks watch configuration for errors.
func ValidateWatch(w WatchConfig) error {
	if w.Debounce < 0 {
		return fmt.Errorf("watch.debounce must be >= 0, got %s", w.Debounce)
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# syscore configuration

scheduler:
  max_workers: 0        # Concurrent units; 0 runs every ready unit at once
  max_delay: 3s         # Upper bound of the demo units' simulated latency
  graph_cache_ttl: 5m   # How long a compiled graph is reused
  # manifest: graph.yaml  # Graph definition used when run has no --manifest

# Debug log (enabled with --debug or SYSCORE_DEBUG=1)
log:
  level: debug
  path: debug.log

# run --watch settings
watch:
  debounce: 200ms

# Tracing (disabled by default)
# tracing:
#   enabled: true
#   exporter: file        # none, file, stdout, otlp
#   file_path: ~/.config/syscore/traces/traces.jsonl
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
