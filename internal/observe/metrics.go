// Package observe provides application-wide observability primitives for
// Sightline: OpenTelemetry metrics, tracing helpers, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Sightline metrics.
const meterName = "github.com/sightlinehq/sightline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ConnectDuration tracks the latency of the live-session open handshake.
	ConnectDuration metric.Float64Histogram

	// PlaybackLead tracks, at each scheduling decision, how many seconds of
	// agent audio were already queued ahead of the output clock. A lead near
	// zero means playback is at risk of gaps.
	PlaybackLead metric.Float64Histogram

	// MediaChunks counts media chunks crossing the agent channel. Use with
	// attributes:
	//   attribute.String("kind", "audio"|"image"), attribute.String("direction", "in"|"out")
	MediaChunks metric.Int64Counter

	// Interruptions counts barge-in interruption signals from the agent.
	Interruptions metric.Int64Counter

	// DecodeErrors counts inbound audio chunks dropped as malformed.
	DecodeErrors metric.Int64Counter

	// SessionErrors counts sessions torn down by a transport error.
	SessionErrors metric.Int64Counter

	// ActiveSessions tracks the number of open agent sessions (0 or 1 by
	// design, recorded as a gauge for dashboard symmetry).
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime-audio latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("sightline.session.connect.duration",
		metric.WithDescription("Latency of the live-session open handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLead, err = m.Float64Histogram("sightline.playback.lead",
		metric.WithDescription("Seconds of agent audio queued ahead of the output clock at each scheduling decision."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MediaChunks, err = m.Int64Counter("sightline.media.chunks",
		metric.WithDescription("Total media chunks by kind and direction."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("sightline.session.interruptions",
		metric.WithDescription("Total barge-in interruption signals received from the agent."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("sightline.audio.decode_errors",
		metric.WithDescription("Total inbound audio chunks dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("sightline.session.errors",
		metric.WithDescription("Total sessions torn down by a transport error."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("sightline.active_sessions",
		metric.WithDescription("Number of open agent sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sightline.http.request.duration",
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

// RecordChunk records one media chunk crossing the agent channel.
func (m *Metrics) RecordChunk(ctx context.Context, kind, direction string) {
	m.MediaChunks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("direction", direction),
		),
	)
}
