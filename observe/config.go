package observe

import (
	"errors"
	"fmt"
	"slices"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// Configuration errors returned by Config.Validate.
var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample percentage must be between 0.0 and 1.0")
	ErrInvalidTracingExporter = errors.New("observe: invalid tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: invalid metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: invalid log level")
	ErrInvalidLogOutput       = errors.New("observe: invalid log output")
)

// Accepted exporter and stream names. The empty string selects the
// default: no exporter, or stderr.
var (
	tracingExporters = []string{"otlp", "jaeger", "stdout", "none", ""}
	metricsExporters = []string{"otlp", "prometheus", "stdout", "none", ""}
	logOutputs       = []string{"stderr", "stdout", ""}
)

// Config describes how a hashops process exports telemetry.
type Config struct {
	ServiceName string `yaml:"service_name"`
	Version     string `yaml:"version"`

	// Attributes are extra resource attributes, e.g. deployment.environment.
	Attributes map[string]string `yaml:"attributes"`

	// Global installs the tracer and meter providers as the otel globals.
	// Default: false
	Global bool `yaml:"global"`

	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Exporter  string  `yaml:"exporter"`   // otlp|jaeger|stdout|none
	SamplePct float64 `yaml:"sample_pct"` // 0.0-1.0
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // otlp|prometheus|stdout|none

	// Interval is the push interval of the stdout and otlp readers.
	// Default: 60s
	Interval time.Duration `yaml:"interval"`

	// Registerer receives the Prometheus collector when Exporter is
	// "prometheus". Default: prometheus.DefaultRegisterer
	Registerer promclient.Registerer `yaml:"-"`
}

// LoggingConfig configures the JSON logger.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"` // debug|info|warn|error

	// Output selects the stream log lines go to.
	// Default: stderr
	Output string `yaml:"output"` // stderr|stdout
}

// Validate checks exporter names, sampling and log settings. Disabled
// sections are not checked.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}

	if c.Tracing.Enabled {
		if !slices.Contains(tracingExporters, c.Tracing.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidTracingExporter, c.Tracing.Exporter)
		}
		// Written so that NaN fails too.
		if !(c.Tracing.SamplePct >= 0 && c.Tracing.SamplePct <= 1) {
			return fmt.Errorf("%w, got: %f", ErrInvalidSamplePct, c.Tracing.SamplePct)
		}
	}

	if c.Metrics.Enabled && !slices.Contains(metricsExporters, c.Metrics.Exporter) {
		return fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, c.Metrics.Exporter)
	}

	if c.Logging.Enabled {
		if c.Logging.Level != "" && !slices.Contains(levelNames[:], c.Logging.Level) {
			return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
		}
		if !slices.Contains(logOutputs, c.Logging.Output) {
			return fmt.Errorf("%w: %q", ErrInvalidLogOutput, c.Logging.Output)
		}
	}

	return nil
}

// Enabled reports whether any telemetry section is switched on.
func (c Config) Enabled() bool {
	return c.Tracing.Enabled || c.Metrics.Enabled || c.Logging.Enabled
}
