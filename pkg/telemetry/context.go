package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event publisher of a
// process reading build trees.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// Metrics server is not explicitly shut down here as it may need to continue
	// serving metrics until the very end of the application lifecycle

	return nil
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() (*http.Server, <-chan error) {
	return t.Metrics.StartMetricsServer()
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext creates a context with telemetry, logger fields, and a trace span.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	// Start trace span
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	// Create logger with operation field
	logger := tel.Logger.WithField("operation", operation)

	// Add trace context to logger if available
	if traceID := TraceID(spanCtx); traceID != "" {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": traceID,
			"span_id":  SpanID(spanCtx),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// StartFileOperation instruments the evaluation of the build file at path.
// It opens a span only when Tracing.FileSpans is set; otherwise the
// operation is timed and logged under the enclosing walk span.
func StartFileOperation(ctx context.Context, path string) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil || !tel.Config.Tracing.FileSpans {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx).WithPath(path),
			Timer:  NewTimer(),
		}
	}
	ic := StartOperation(ctx, "read_build_file", AttrPath.String(path))
	ic.Logger = ic.Logger.WithPath(path)
	return ic
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// walkStateKey is the context key for the state of a walk in progress.
type walkStateKey struct{}

type walkState struct {
	id    string
	span  trace.Span
	timer *Timer
}

// WithWalkContext creates a context enriched with walk-specific telemetry:
// a span covering the walk, a logger carrying the walk id, and a started
// walk in metrics and events.
func WithWalkContext(ctx context.Context, walkID, root string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartWalkSpan(ctx, walkID, root)

	logger := tel.Logger.WithWalkID(walkID).WithField("root", root)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordWalkStarted()
	_ = tel.Events.PublishWalkStarted(walkID, root)

	return context.WithValue(spanCtx, walkStateKey{}, &walkState{id: walkID, span: span, timer: NewTimer()})
}

// EndWalkContext completes the walk started by WithWalkContext, recording
// how many contexts it produced and whether it failed.
func EndWalkContext(ctx context.Context, contexts int, err error) {
	tel := FromTelemetryContext(ctx)
	state, ok := ctx.Value(walkStateKey{}).(*walkState)
	if tel == nil || !ok {
		return
	}

	if err != nil {
		RecordError(state.span, err)
	} else {
		RecordSuccess(state.span)
	}
	state.span.SetAttributes(AttrContexts.Int(contexts))
	state.span.End()

	duration := state.timer.Duration()
	if err != nil {
		tel.Metrics.RecordWalkCompleted(StatusFailed, duration)
		_ = tel.Events.PublishWalkFailed(state.id, err.Error())
		return
	}
	tel.Metrics.RecordWalkCompleted(StatusOK, duration)
	_ = tel.Events.PublishWalkCompleted(state.id, contexts, duration)
}
