package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

// Config is the telemetry configuration of a dofigen run.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn or error.
	Level string

	// Format is console or json.
	Format string

	// Output is stderr, stdout or a file path.
	Output string

	EnableCaller bool

	// TimeFormat is the JSON timestamp format: unix, unixms or rfc3339.
	TimeFormat string
}

// TracingConfig configures the span exporter.
type TracingConfig struct {
	Enabled bool

	// Exporter is none, stdout or otlp.
	Exporter string

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	SamplingRate  float64
	ExportTimeout time.Duration
	Headers       map[string]string
	Insecure      bool
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool
	Namespace string

	// TextFile receives the metrics in the text exposition format on
	// shutdown.
	TextFile string

	// DefaultHistogramBuckets are the phase duration buckets in seconds.
	DefaultHistogramBuckets []float64
}

var (
	logFormats    = []string{"console", "json"}
	traceExporter = []string{"none", "stdout", "otlp"}
)

// DefaultConfig returns the configuration used by the CLI: console logs on
// stderr, no trace export and in-memory metrics.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "dofigen",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 10 * time.Second,
			Headers:       make(map[string]string),
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "dofigen",
			DefaultHistogramBuckets: []float64{
				0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0,
			},
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, fmt.Errorf("service name is required"))
	}

	if level, err := zerolog.ParseLevel(c.Logging.Level); err != nil || level == zerolog.NoLevel {
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Logging.Level))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("invalid log format: %q (must be one of %v)", c.Logging.Format, logFormats))
	}

	if c.Tracing.Enabled {
		if !slices.Contains(traceExporter, c.Tracing.Exporter) {
			errs = append(errs, fmt.Errorf("invalid trace exporter: %q (must be one of %v)", c.Tracing.Exporter, traceExporter))
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			errs = append(errs, fmt.Errorf("the otlp trace exporter requires an endpoint"))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got %g", c.Tracing.SamplingRate))
	}

	if c.Metrics.TextFile != "" && !c.Metrics.Enabled {
		errs = append(errs, fmt.Errorf("a metrics file requires metrics to be enabled"))
	}

	return errors.Join(errs...)
}
