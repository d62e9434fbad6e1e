package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for a dofigen run.
type Metrics struct {
	config MetricsConfig

	resourcesLoaded *prometheus.CounterVec
	imagesPinned    *prometheus.CounterVec
	lintMessages    *prometheus.CounterVec
	errorsByKind    *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	generatedStages prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		resourcesLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_loaded_total",
				Help:      "Total number of description resources loaded, by source",
			},
			[]string{"kind", "source"},
		),
		imagesPinned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "images_pinned_total",
				Help:      "Total number of image tags pinned to a digest, by registry host",
			},
			[]string{"host"},
		),
		lintMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lint_messages_total",
				Help:      "Total number of lint messages, by level",
			},
			[]string{"level"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors, by kind",
			},
			[]string{"kind"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of the run phases in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		generatedStages: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "generated_stages",
				Help:      "Number of stages in the last generated Dockerfile",
			},
		),
	}

	registry.MustRegister(
		m.resourcesLoaded,
		m.imagesPinned,
		m.lintMessages,
		m.errorsByKind,
		m.phaseDuration,
		m.generatedStages,
	)

	return m, nil
}

// RecordResourceLoaded counts a loaded resource.
func (m *Metrics) RecordResourceLoaded(kind, source string) {
	if m.resourcesLoaded == nil {
		return
	}
	m.resourcesLoaded.WithLabelValues(kind, source).Inc()
}

// RecordImagePinned counts an image resolved to a digest.
func (m *Metrics) RecordImagePinned(host string) {
	if m.imagesPinned == nil {
		return
	}
	m.imagesPinned.WithLabelValues(host).Inc()
}

// RecordLintMessage counts a lint message.
func (m *Metrics) RecordLintMessage(level string) {
	if m.lintMessages == nil {
		return
	}
	m.lintMessages.WithLabelValues(level).Inc()
}

// RecordError counts an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	if kind == "" {
		kind = "unclassified"
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// RecordPhase records the duration of a run phase.
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	if m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// SetGeneratedStages sets the stage count of the last generated Dockerfile.
func (m *Metrics) SetGeneratedStages(count int) {
	if m.generatedStages == nil {
		return
	}
	m.generatedStages.Set(float64(count))
}

// Registry returns the registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextFile writes the metrics in the Prometheus text format.
func (m *Metrics) WriteTextFile(path string) error {
	if m.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
