// Package observe provides application-wide observability primitives for
// tolk: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tolk metrics.
const meterName = "github.com/tolk-ai/tolk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// FastDuration tracks fast-path translation latency.
	FastDuration metric.Float64Histogram

	// QualityDuration tracks cloud quality-translation latency.
	QualityDuration metric.Float64Histogram

	// AnswerDuration tracks answer-generation latency.
	AnswerDuration metric.Float64Histogram

	// --- Counters ---

	// BackendRequests counts translation backend and cloud provider calls.
	// Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BackendErrors counts backend errors (cancellations excluded). Use with
	// attribute: attribute.String("backend", ...)
	BackendErrors metric.Int64Counter

	// CacheHits counts chunk, pivot, and normalizer cache hits. Use with
	// attribute: attribute.String("cache", ...)
	CacheHits metric.Int64Counter

	// QuestionsDetected counts quality results classified as questions.
	QuestionsDetected metric.Int64Counter

	// AnswersGenerated counts completed answer generations.
	AnswersGenerated metric.Int64Counter

	// LowConfidenceResults counts translations scoring below the acceptable
	// threshold. Use with attribute: attribute.String("backend", ...)
	LowConfidenceResults metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectedClients tracks the number of open gateway connections.
	ConnectedClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for live-translation latencies.
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
	if met.FastDuration, err = m.Float64Histogram("tolk.fast.duration",
		metric.WithDescription("Latency of fast-path translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QualityDuration, err = m.Float64Histogram("tolk.quality.duration",
		metric.WithDescription("Latency of cloud quality translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnswerDuration, err = m.Float64Histogram("tolk.answer.duration",
		metric.WithDescription("Latency of answer generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BackendRequests, err = m.Int64Counter("tolk.backend.requests",
		metric.WithDescription("Total backend requests by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("tolk.backend.errors",
		metric.WithDescription("Total backend errors by backend, cancellations excluded."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("tolk.cache.hits",
		metric.WithDescription("Total cache hits by cache name."),
	); err != nil {
		return nil, err
	}
	if met.QuestionsDetected, err = m.Int64Counter("tolk.questions.detected",
		metric.WithDescription("Total quality results classified as questions."),
	); err != nil {
		return nil, err
	}
	if met.AnswersGenerated, err = m.Int64Counter("tolk.answers.generated",
		metric.WithDescription("Total completed answer generations."),
	); err != nil {
		return nil, err
	}
	if met.LowConfidenceResults, err = m.Int64Counter("tolk.translations.low_confidence",
		metric.WithDescription("Total translations scoring below the acceptable threshold."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tolk.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedClients, err = m.Int64UpDownCounter("tolk.connected_clients",
		metric.WithDescription("Number of open gateway connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tolk.http.request.duration",
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

// RecordBackendRequest records a backend request counter increment with the
// standard attribute set.
func (m *Metrics) RecordBackendRequest(ctx context.Context, backend, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordBackendError records a backend error counter increment. Callers must
// not record cancellations.
func (m *Metrics) RecordBackendError(ctx context.Context, backend string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}

// RecordCacheHit records a cache hit for the named cache.
func (m *Metrics) RecordCacheHit(ctx context.Context, cache string) {
	m.CacheHits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cache", cache)),
	)
}

// RecordLowConfidence records a below-threshold translation for the backend.
func (m *Metrics) RecordLowConfidence(ctx context.Context, backend string) {
	m.LowConfidenceResults.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}
