// Package observe provides application-wide observability primitives for
// scribeline: OpenTelemetry metrics, distributed tracing, trace-aware logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all scribeline metrics.
const meterName = "github.com/MrWong99/scribeline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// UtterancesAccepted counts final results that became transcript items.
	UtterancesAccepted metric.Int64Counter

	// UtterancesRejected counts final results dropped by the classifier. Use with
	// attribute.String("reason", ...).
	UtterancesRejected metric.Int64Counter

	// QuestionsDetected counts accepted utterances flagged as questions.
	QuestionsDetected metric.Int64Counter

	// AnswerDuration tracks time from question to completed answer. Use with
	// attribute.String("status", "ok"|"error"|"discarded").
	AnswerDuration metric.Float64Histogram

	// AnswerErrors counts failed answer generations.
	AnswerErrors metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionsSaved counts persisted sessions. Use with attribute.String("status", ...).
	SessionsSaved metric.Int64Counter

	// StoreDuration tracks session store latency. Use with attribute.String("op", ...).
	StoreDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Answers
// stream for seconds; store calls take milliseconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.UtterancesAccepted, err = m.Int64Counter("scribeline.utterances.accepted",
		metric.WithDescription("Final recognition results appended to the transcript."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesRejected, err = m.Int64Counter("scribeline.utterances.rejected",
		metric.WithDescription("Final recognition results dropped by the classifier, by reason."),
	); err != nil {
		return nil, err
	}
	if met.QuestionsDetected, err = m.Int64Counter("scribeline.questions.detected",
		metric.WithDescription("Accepted utterances classified as questions."),
	); err != nil {
		return nil, err
	}
	if met.AnswerDuration, err = m.Float64Histogram("scribeline.answer.duration",
		metric.WithDescription("Time from question to the end of the answer stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnswerErrors, err = m.Int64Counter("scribeline.answer.errors",
		metric.WithDescription("Answer generations that failed."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("scribeline.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("scribeline.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("scribeline.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsSaved, err = m.Int64Counter("scribeline.sessions.saved",
		metric.WithDescription("Sessions handed to the store, by status."),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("scribeline.store.duration",
		metric.WithDescription("Session store call latency by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("scribeline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation fails
// (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance counts one classified final result. reason is ignored for
// accepted utterances.
func (m *Metrics) RecordUtterance(ctx context.Context, accepted, question bool, reason string) {
	if !accepted {
		m.UtterancesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		return
	}
	m.UtterancesAccepted.Add(ctx, 1)
	if question {
		m.QuestionsDetected.Add(ctx, 1)
	}
}

// RecordAnswer records the outcome and latency of one answer generation.
func (m *Metrics) RecordAnswer(ctx context.Context, status string, d time.Duration) {
	m.AnswerDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	if status == "error" {
		m.AnswerErrors.Add(ctx, 1)
	}
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordStoreCall records the latency of one store operation.
func (m *Metrics) RecordStoreCall(ctx context.Context, op string, d time.Duration) {
	m.StoreDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("op", op)))
}

// RecordSessionSaved counts one save attempt.
func (m *Metrics) RecordSessionSaved(ctx context.Context, status string) {
	m.SessionsSaved.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
