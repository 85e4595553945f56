// Package observe provides application-wide observability for the voice
// agent: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/xBlackSmurfx008/AI-Caller-sub001"

// Metrics holds all OpenTelemetry metric instruments for the call path.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation. All convenience methods are nil-safe so callers
// can carry a nil *Metrics when observability is disabled.
type Metrics struct {
	// --- Latency histograms ---

	// ToolExecutionDuration tracks tool handler execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// RetrievalStageDuration tracks knowledge-retrieval pipeline stage
	// latency. Use with attribute: attribute.String("stage", ...)
	RetrievalStageDuration metric.Float64Histogram

	// ModelResponseDuration tracks time from a committed caller turn to the
	// first model audio delta.
	ModelResponseDuration metric.Float64Histogram

	// --- Counters ---

	// AudioFramesForwarded counts media frames forwarded between carrier and
	// model. Use with attribute: attribute.String("direction", "inbound"|"outbound")
	AudioFramesForwarded metric.Int64Counter

	// AudioFramesDropped counts media frames shed by bounded playback
	// queues. Use with attribute: attribute.String("direction", ...)
	AudioFramesDropped metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ProtocolErrors counts malformed frames per peer. Use with attribute:
	//   attribute.String("peer", "carrier"|"model")
	ProtocolErrors metric.Int64Counter

	// Escalations counts escalations by trigger type. Use with attribute:
	//   attribute.String("trigger", ...)
	Escalations metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call bridges.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for real-time voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ToolExecutionDuration, err = m.Float64Histogram("aicaller.tool_execution.duration",
		metric.WithDescription("Latency of tool handler execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalStageDuration, err = m.Float64Histogram("aicaller.retrieval.stage.duration",
		metric.WithDescription("Latency per knowledge-retrieval pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelResponseDuration, err = m.Float64Histogram("aicaller.model.response.duration",
		metric.WithDescription("Time from committed caller turn to first model audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioFramesForwarded, err = m.Int64Counter("aicaller.audio.frames.forwarded",
		metric.WithDescription("Total media frames forwarded by direction."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesDropped, err = m.Int64Counter("aicaller.audio.frames.dropped",
		metric.WithDescription("Total media frames dropped by bounded queues, by direction."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("aicaller.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("aicaller.protocol.errors",
		metric.WithDescription("Total malformed frames by peer."),
	); err != nil {
		return nil, err
	}
	if met.Escalations, err = m.Int64Counter("aicaller.escalations",
		metric.WithDescription("Total escalations by trigger type."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("aicaller.active_calls",
		metric.WithDescription("Number of live call bridges."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aicaller.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordToolCall records one tool invocation with its duration and outcome.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordModelResponse records the delay between a committed caller turn and
// the first model audio delta.
func (m *Metrics) RecordModelResponse(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelResponseDuration.Record(ctx, d.Seconds())
}

// RecordRetrievalStage records one pipeline stage duration.
func (m *Metrics) RecordRetrievalStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalStageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// AddFrames records forwarded and dropped frame counts for one direction.
func (m *Metrics) AddFrames(ctx context.Context, direction string, forwarded, dropped int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	if forwarded > 0 {
		m.AudioFramesForwarded.Add(ctx, forwarded, attrs)
	}
	if dropped > 0 {
		m.AudioFramesDropped.Add(ctx, dropped, attrs)
	}
}

// RecordProtocolError counts one malformed frame from peer.
func (m *Metrics) RecordProtocolError(ctx context.Context, peer string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("peer", peer)))
}

// RecordEscalation counts one escalation by trigger type.
func (m *Metrics) RecordEscalation(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.Escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// CallStarted increments the active-call gauge.
func (m *Metrics) CallStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveCalls.Add(ctx, 1)
}

// CallEnded decrements the active-call gauge.
func (m *Metrics) CallEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveCalls.Add(ctx, -1)
}
