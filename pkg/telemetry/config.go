package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration of a buildtree process.
type Config struct {
	// ServiceName identifies the process in traces.
	ServiceName string

	// ServiceVersion is the version reported alongside ServiceName.
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path.
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string
}

// TracingConfig configures walk tracing.
type TracingConfig struct {
	Enabled bool

	// Exporter is stdout, otlp or none.
	Exporter string

	// Endpoint is the OTLP collector address. Empty defers to the
	// OTEL_EXPORTER_OTLP_ENDPOINT environment variable.
	Endpoint string

	// Insecure disables TLS for the OTLP connection.
	Insecure bool

	// SamplingRate is the fraction of walks traced, between 0 and 1.
	SamplingRate float64

	// ExportTimeout bounds a single export of finished spans.
	ExportTimeout time.Duration

	// FileSpans opens a span for every build file evaluated, nested under
	// the walk span. When false a walk is a single span and duplicate
	// skips are its only per-file events.
	FileSpans bool
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress is the address StartMetricsServer binds.
	ListenAddress string

	// Path is the HTTP path metrics are served on.
	Path string

	// Namespace prefixes every metric name.
	Namespace string

	// DefaultHistogramBuckets are the latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the in-process event publisher.
type EventsConfig struct {
	Enabled bool

	// BufferSize is the capacity of the asynchronous delivery queue.
	BufferSize int

	// FlushInterval is how often a partial batch is delivered.
	FlushInterval time.Duration

	// MaxBatchSize is the number of queued events delivered at once.
	MaxBatchSize int

	// EnableAsync delivers events from a background goroutine.
	EnableAsync bool

	// MinLevel drops events below this level before any subscriber sees
	// them. Empty keeps every event.
	MinLevel string
}

// DefaultConfig returns the configuration used by the buildtree command
// before flags are applied.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "buildtree",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			Output:       "stderr",
			EnableCaller: false,
			TimeFormat:   "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "stdout",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
			FileSpans:     true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9464",
			Path:          "/metrics",
			Namespace:     "buildtree",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    256,
			FlushInterval: time.Second,
			MaxBatchSize:  64,
			EnableAsync:   false,
			MinLevel:      EventLevelWarning,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "otlp", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s (must be 'stdout', 'otlp' or 'none')", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
		}
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	if c.Events.Enabled {
		if c.Events.EnableAsync && (c.Events.BufferSize <= 0 || c.Events.MaxBatchSize <= 0) {
			return fmt.Errorf("async events need a positive buffer and batch size, got: %d and %d", c.Events.BufferSize, c.Events.MaxBatchSize)
		}
		if _, ok := eventLevels[c.Events.MinLevel]; c.Events.MinLevel != "" && !ok {
			return fmt.Errorf("invalid event level: %s", c.Events.MinLevel)
		}
	}

	return nil
}
