// Package observe provides application-wide observability primitives for
// talktor: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all talktor metrics.
const meterName = "github.com/surajgopal85/talktor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// TranscribeDuration tracks speech-to-text latency per utterance.
	TranscribeDuration metric.Float64Histogram

	// ExtractDuration tracks medication extraction latency per utterance.
	ExtractDuration metric.Float64Histogram

	// TranslateDuration tracks translation latency per utterance.
	TranslateDuration metric.Float64Histogram

	// SynthesizeDuration tracks text-to-speech latency per utterance.
	SynthesizeDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency, ingestion to translation
	// broadcast.
	TurnDuration metric.Float64Histogram

	// UtteranceDuration tracks the audio length of finalized utterances.
	UtteranceDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// MedicationCandidates counts raw extraction candidates before catalog
	// validation. Use with attribute: attribute.String("strategy", ...)
	MedicationCandidates metric.Int64Counter

	// MedicationsValidated counts candidates that survived catalog validation.
	// Use with attribute: attribute.String("strategy", ...)
	MedicationsValidated metric.Int64Counter

	// SafetyAlerts counts safety flags raised by specialty engines. Use with
	// attributes: attribute.String("specialty", ...), attribute.String("severity", ...)
	SafetyAlerts metric.Int64Counter

	// TranslationFallbacks counts turns that fell back to echoing the source
	// text because every translation backend failed.
	TranslationFallbacks metric.Int64Counter

	// BroadcastPrunes counts session channels dropped after a failed delivery.
	BroadcastPrunes metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks connected WebSocket participants across all
	// sessions.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversation-pipeline latencies.
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
	if met.TranscribeDuration, err = m.Float64Histogram("talktor.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractDuration, err = m.Float64Histogram("talktor.extract.duration",
		metric.WithDescription("Latency of medication extraction and safety analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("talktor.translate.duration",
		metric.WithDescription("Latency of translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesizeDuration, err = m.Float64Histogram("talktor.synthesize.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("talktor.turn.duration",
		metric.WithDescription("End-to-end turn latency, utterance to translation broadcast."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("talktor.utterance.duration",
		metric.WithDescription("Audio length of finalized utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("talktor.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.MedicationCandidates, err = m.Int64Counter("talktor.extraction.candidates",
		metric.WithDescription("Total extraction candidates by strategy, before catalog validation."),
	); err != nil {
		return nil, err
	}
	if met.MedicationsValidated, err = m.Int64Counter("talktor.extraction.validated",
		metric.WithDescription("Total extracted medications that passed catalog validation, by strategy."),
	); err != nil {
		return nil, err
	}
	if met.SafetyAlerts, err = m.Int64Counter("talktor.safety.alerts",
		metric.WithDescription("Total safety flags raised by specialty and severity."),
	); err != nil {
		return nil, err
	}
	if met.TranslationFallbacks, err = m.Int64Counter("talktor.translation.fallbacks",
		metric.WithDescription("Total turns that echoed the source text because translation failed."),
	); err != nil {
		return nil, err
	}
	if met.BroadcastPrunes, err = m.Int64Counter("talktor.broadcast.prunes",
		metric.WithDescription("Total session channels pruned after a failed delivery."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("talktor.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("talktor.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("talktor.active_connections",
		metric.WithDescription("Number of connected WebSocket participants across all sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("talktor.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSafetyAlert is a convenience method that records a safety alert
// counter increment with the standard attribute set.
func (m *Metrics) RecordSafetyAlert(ctx context.Context, specialty, severity string) {
	m.SafetyAlerts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("specialty", specialty),
			attribute.String("severity", severity),
		),
	)
}

// RecordExtraction is a convenience method that records candidate and
// validated counts for one extraction pass.
func (m *Metrics) RecordExtraction(ctx context.Context, strategy string, candidates, validated int64) {
	attrs := metric.WithAttributes(attribute.String("strategy", strategy))
	if candidates > 0 {
		m.MedicationCandidates.Add(ctx, candidates, attrs)
	}
	if validated > 0 {
		m.MedicationsValidated.Add(ctx, validated, attrs)
	}
}
