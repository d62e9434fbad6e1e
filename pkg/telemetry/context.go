package telemetry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dofigen/dofigen/pkg/errdefs"
)

// Telemetry combines logging, tracing and metrics for one run.
type Telemetry struct {
	RunID   string
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration. Every
// instance gets a fresh run ID that is attached to its logger.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

// NewTelemetryWithLogger is NewTelemetry with a caller-provided logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	return &Telemetry{
		RunID:   runID,
		Logger:  logger.WithRunID(runID),
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Noop returns telemetry that logs nothing and exports nothing.
func Noop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	t, err := newTelemetry(cfg, Nop())
	if err != nil {
		panic(err)
	}
	return t
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes spans and writes the metrics file when one is configured.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if t.Config.Metrics.TextFile != "" {
		if err := t.Metrics.WriteTextFile(t.Config.Metrics.TextFile); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InstrumentedContext is one traced, timed and logged phase of a run.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	phase   string
	metrics *Metrics
}

// StartOperation begins an instrumented phase. Without telemetry in ctx the
// phase is only timed.
func StartOperation(ctx context.Context, phase string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Span:   noop.Span{},
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
			phase:  phase,
		}
	}

	attrs = append(attrs, AttrRunID.String(tel.RunID))
	spanCtx, span := tel.Tracer.StartSpan(ctx, phase, attrs...)

	logger := tel.Logger.WithField("phase", phase)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}

	return &InstrumentedContext{
		Ctx:     logger.WithContext(spanCtx),
		Span:    span,
		Logger:  logger,
		Timer:   NewTimer(),
		phase:   phase,
		metrics: tel.Metrics,
	}
}

// End finishes the phase, recording its duration and outcome.
func (ic *InstrumentedContext) End(err error) {
	if ic.metrics != nil {
		ic.metrics.RecordPhase(ic.phase, ic.Timer.Duration())
		if err != nil {
			ic.metrics.RecordError(string(errdefs.KindOf(err)))
		}
	}
	if err != nil {
		ic.Span.SetAttributes(AttrErrorKind.String(string(errdefs.KindOf(err))))
	}
	endSpan(ic.Span, err)
	ic.Logger.zlog.Debug().Dur("duration", ic.Timer.Duration()).Err(err).Msg("Phase finished")
}
