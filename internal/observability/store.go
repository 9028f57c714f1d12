package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"gatekeeper/internal/admission/store"
)

// InstrumentedStore wraps a counter store with OpenTelemetry tracing and
// metrics. The counter store sits on every request's critical path, so its
// latency and error rate are the first thing to look at when admission
// decisions degrade.
type InstrumentedStore struct {
	inner    store.Store
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore creates a store wrapper that records trace spans,
// operation latency histograms, and error counters for every store call.
func NewInstrumentedStore(inner store.Store) (*InstrumentedStore, error) {
	tracer := otel.Tracer("gatekeeper/store")
	meter := otel.Meter("gatekeeper/store")

	duration, err := meter.Float64Histogram(
		"counter_store.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"counter_store.operation.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	// Counter keys hold hashed caller identifiers; they stay out of span
	// attributes to keep telemetry free of per-caller data.
	return s.tracer.Start(ctx, "counter_store."+operation,
		trace.WithAttributes(attribute.String("store.operation", operation)),
	)
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	ctx, span := s.startSpan(ctx, "Increment")
	start := time.Now()
	count, windowStart, err := s.inner.Increment(ctx, key, window)
	s.record(ctx, span, "Increment", start, err)
	return count, windowStart, err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (int64, error) {
	ctx, span := s.startSpan(ctx, "Get")
	start := time.Now()
	count, err := s.inner.Get(ctx, key)
	s.record(ctx, span, "Get", start, err)
	return count, err
}

func (s *InstrumentedStore) Reset(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "Reset")
	start := time.Now()
	err := s.inner.Reset(ctx, key)
	s.record(ctx, span, "Reset", start, err)
	return err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
