package system

import (
	"fmt"
	"os"
	"time"

	"github.com/roasbeef/edgerpc/internal/metrics"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultTimeout is the default per-call timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultMinDrainGrace is the minimum grace period Shutdown
	// allows in-flight calls to drain, regardless of load.
	DefaultMinDrainGrace = 5 * time.Second

	// DefaultMetricsNamespace prefixes all metric names.
	DefaultMetricsNamespace = "edgerpc"
)

// TraceSettings controls ambient trace header stamping on outbound
// invocations.
type TraceSettings struct {
	// Enabled stamps a fresh trace ID on calls that carry no ambient
	// trace context.
	Enabled bool
}

// Config holds the construction parameters for a System.
type Config struct {
	// MetricsNamespace prefixes all metric names.
	MetricsNamespace string

	// Timeout is the default per-call timeout. Individual calls can
	// override it with WithCallTimeout.
	Timeout time.Duration

	// MaxRetries is carried for higher layers that wrap calls with a
	// retry policy. The core never retries.
	MaxRetries int

	// LoggerLabel prefixes this system's log output, distinguishing
	// multiple systems in one process.
	LoggerLabel string

	// Tracing controls trace header stamping.
	Tracing TraceSettings

	// MinDrainGrace is the minimum shutdown drain window.
	MinDrainGrace time.Duration

	// ExpectedLatency scales the drain window by the in-flight count
	// at shutdown. Zero defaults to the per-call Timeout.
	ExpectedLatency time.Duration

	// PreassignedIDs seeds the AssignID queue. IDs are handed out in
	// order and never reissued.
	PreassignedIDs []string

	// Metrics receives lifecycle measurements. Nil disables
	// recording.
	Metrics metrics.Recorder
}

// DefaultConfig returns a Config with sane defaults.
func DefaultConfig() Config {
	return Config{
		MetricsNamespace: DefaultMetricsNamespace,
		Timeout:          DefaultTimeout,
		MinDrainGrace:    DefaultMinDrainGrace,
		LoggerLabel:      "SYS",
	}
}

// yamlConfig is the file form of Config. Durations are strings in Go
// duration syntax ("250ms", "10s").
type yamlConfig struct {
	MetricsNamespace string        `yaml:"metrics_namespace"`
	Timeout          string        `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	LoggerLabel      string        `yaml:"logger_label"`
	Tracing          TraceSettings `yaml:"tracing"`
	MinDrainGrace    string        `yaml:"min_drain_grace"`
	PreassignedIDs   []string      `yaml:"preassigned_ids"`
}

// LoadConfig reads a YAML config file over the defaults. Fields absent
// from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var fileCfg yamlConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if fileCfg.MetricsNamespace != "" {
		cfg.MetricsNamespace = fileCfg.MetricsNamespace
	}
	if fileCfg.LoggerLabel != "" {
		cfg.LoggerLabel = fileCfg.LoggerLabel
	}
	if fileCfg.MaxRetries != 0 {
		cfg.MaxRetries = fileCfg.MaxRetries
	}
	cfg.Tracing = fileCfg.Tracing
	cfg.PreassignedIDs = fileCfg.PreassignedIDs

	if fileCfg.Timeout != "" {
		d, err := time.ParseDuration(fileCfg.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf(
				"parse timeout: %w", err,
			)
		}
		cfg.Timeout = d
	}
	if fileCfg.MinDrainGrace != "" {
		d, err := time.ParseDuration(fileCfg.MinDrainGrace)
		if err != nil {
			return Config{}, fmt.Errorf(
				"parse min_drain_grace: %w", err,
			)
		}
		cfg.MinDrainGrace = d
	}

	return cfg, nil
}
