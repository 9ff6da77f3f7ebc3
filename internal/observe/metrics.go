// Package observe provides application-wide observability primitives for
// redakt: OpenTelemetry metrics, tracing helpers, structured logging, and
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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all redakt metrics.
const meterName = "github.com/fabelwerk/redakt"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per engine ---

	// LexiconRunDuration tracks one full lexicon match pass over a
	// transcript.
	LexiconRunDuration metric.Float64Histogram

	// SpellcheckRunDuration tracks one spellcheck run, start to completion
	// or supersession.
	SpellcheckRunDuration metric.Float64Histogram

	// FilterApplyDuration tracks one filter-pipeline application.
	FilterApplyDuration metric.Float64Histogram

	// --- Counters ---

	// CheckerCalls counts tokens handed to the dictionary checkers. Use with
	// attribute: attribute.String("dictionary", "builtin"|"custom")
	CheckerCalls metric.Int64Counter

	// Seeks counts seek requests by cause. Use with attributes:
	//   attribute.String("source", ...), attribute.String("action", ...)
	Seeks metric.Int64Counter

	// Replacements counts search-and-replace operations. Use with
	// attribute: attribute.String("scope", "current"|"all")
	Replacements metric.Int64Counter

	// MatchLimitHits counts runs halted at the match limit. Use with
	// attribute: attribute.String("engine", ...)
	MatchLimitHits metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open editing sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for in-memory engine passes over transcripts of a few thousand segments.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LexiconRunDuration, err = m.Float64Histogram("redakt.lexicon.run.duration",
		metric.WithDescription("Duration of one lexicon match pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpellcheckRunDuration, err = m.Float64Histogram("redakt.spellcheck.run.duration",
		metric.WithDescription("Duration of one spellcheck run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FilterApplyDuration, err = m.Float64Histogram("redakt.filter.apply.duration",
		metric.WithDescription("Duration of one filter-pipeline application."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CheckerCalls, err = m.Int64Counter("redakt.spellcheck.checker.calls",
		metric.WithDescription("Total dictionary checker lookups by dictionary source."),
	); err != nil {
		return nil, err
	}
	if met.Seeks, err = m.Int64Counter("redakt.playback.seeks",
		metric.WithDescription("Total seek requests by source and action."),
	); err != nil {
		return nil, err
	}
	if met.Replacements, err = m.Int64Counter("redakt.search.replacements",
		metric.WithDescription("Total replace operations by scope."),
	); err != nil {
		return nil, err
	}
	if met.MatchLimitHits, err = m.Int64Counter("redakt.match_limit.hits",
		metric.WithDescription("Total runs halted at the match limit, by engine."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("redakt.active_sessions",
		metric.WithDescription("Number of open editing sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("redakt.http.request.duration",
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
