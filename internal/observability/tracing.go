package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// StartClientSpan starts a span for an outgoing HTTP call to the sync server
func StartClientSpan(ctx context.Context, method, endpoint string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("HTTP %s %s", method, endpoint),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", endpoint),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds sync engine metrics. A nil *SyncMetrics records nothing.
type SyncMetrics struct {
	mutationsEnqueued metric.Int64Counter
	pushOutcomes      metric.Int64Counter
	pullChanges       metric.Int64Counter
	resolutions       metric.Int64Counter
	roundTrip         metric.Float64Histogram
	pendingMutations  metric.Int64UpDownCounter
}

// NewSyncMetrics creates sync metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	mutationsEnqueued, err := meter.Int64Counter(
		"climbsync.outbox.enqueued",
		metric.WithDescription("Total number of local mutations enqueued"),
		metric.WithUnit("{mutations}"),
	)
	if err != nil {
		return nil, err
	}

	pushOutcomes, err := meter.Int64Counter(
		"climbsync.push.outcomes",
		metric.WithDescription("Pushed mutations by server verdict"),
		metric.WithUnit("{mutations}"),
	)
	if err != nil {
		return nil, err
	}

	pullChanges, err := meter.Int64Counter(
		"climbsync.pull.changes",
		metric.WithDescription("Server changes applied to the local store"),
		metric.WithUnit("{changes}"),
	)
	if err != nil {
		return nil, err
	}

	resolutions, err := meter.Int64Counter(
		"climbsync.conflict.resolutions",
		metric.WithDescription("Conflict resolutions by outcome"),
		metric.WithUnit("{resolutions}"),
	)
	if err != nil {
		return nil, err
	}

	roundTrip, err := meter.Float64Histogram(
		"climbsync.remote.duration",
		metric.WithDescription("Push and pull round-trip duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	pendingMutations, err := meter.Int64UpDownCounter(
		"climbsync.outbox.pending",
		metric.WithDescription("Mutations waiting in the outbox"),
		metric.WithUnit("{mutations}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		mutationsEnqueued: mutationsEnqueued,
		pushOutcomes:      pushOutcomes,
		pullChanges:       pullChanges,
		resolutions:       resolutions,
		roundTrip:         roundTrip,
		pendingMutations:  pendingMutations,
	}, nil
}

// RecordEnqueue records a newly queued or coalesced mutation
func (m *SyncMetrics) RecordEnqueue(ctx context.Context, entity string, coalesced bool) {
	if m == nil {
		return
	}
	m.mutationsEnqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.Bool("coalesced", coalesced),
	))
	if !coalesced {
		m.pendingMutations.Add(ctx, 1)
	}
}

// RecordPush records the verdicts of one push batch
func (m *SyncMetrics) RecordPush(ctx context.Context, acknowledged, failed, conflicted int, d time.Duration) {
	if m == nil {
		return
	}
	m.pushOutcomes.Add(ctx, int64(acknowledged), metric.WithAttributes(attribute.String("outcome", "acknowledged")))
	m.pushOutcomes.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("outcome", "failed")))
	m.pushOutcomes.Add(ctx, int64(conflicted), metric.WithAttributes(attribute.String("outcome", "conflict")))
	m.pendingMutations.Add(ctx, -int64(acknowledged))
	m.roundTrip.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(attribute.String("direction", "push")))
}

// RecordPull records one applied pull page
func (m *SyncMetrics) RecordPull(ctx context.Context, applied int, d time.Duration) {
	if m == nil {
		return
	}
	m.pullChanges.Add(ctx, int64(applied))
	m.roundTrip.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(attribute.String("direction", "pull")))
}

// RecordResolution records a conflict resolution
func (m *SyncMetrics) RecordResolution(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
