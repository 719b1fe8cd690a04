// Package observe provides application-wide observability primitives for
// typeless: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so the local /metrics
// endpoint can be scraped. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all typeless metrics.
const meterName = "github.com/MrWong99/typeless"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// CaptureDuration tracks how long the trigger key was held.
	CaptureDuration metric.Float64Histogram

	// TranscriptionDuration tracks the time from release to recognised text.
	TranscriptionDuration metric.Float64Histogram

	// WarmupDuration tracks model load plus warm-up inference.
	WarmupDuration metric.Float64Histogram

	// DownloadDuration tracks complete model acquisitions. Use with attribute:
	//   attribute.String("status", ...)
	DownloadDuration metric.Float64Histogram

	// --- Counters ---

	// Sessions counts finished recording sessions. Use with attribute:
	//   attribute.String("outcome", "completed"|"failed"|"aborted")
	Sessions metric.Int64Counter

	// DecodeRetries counts fallback decoding passes.
	DecodeRetries metric.Int64Counter

	// HotkeyEdges counts trigger edges. Use with attribute:
	//   attribute.String("edge", "pressed"|"released")
	HotkeyEdges metric.Int64Counter

	// TapReenabled counts recoveries after the OS disabled the keyboard tap.
	TapReenabled metric.Int64Counter

	// EdgesDropped counts edges lost because the consumer fell behind.
	EdgesDropped metric.Int64Counter

	// Injections counts text deliveries. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	Injections metric.Int64Counter

	// MirrorProbes counts mirror probe results. Use with attributes:
	//   attribute.String("mirror", ...), attribute.String("status", ...)
	MirrorProbes metric.Int64Counter

	// DownloadAttempts counts archive downloads per mirror. Use with attributes:
	//   attribute.String("mirror", ...), attribute.String("status", ...)
	DownloadAttempts metric.Int64Counter

	// DownloadBytes counts archive bytes written to disk.
	DownloadBytes metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a recording session is non-terminal.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks local endpoint latency. Use with attributes:
	//   attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// dictation latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// downloadBuckets covers archives from a few MB up to a gigabyte.
var downloadBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1200,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("typeless.capture.duration",
		metric.WithDescription("Length of captured push-to-talk audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("typeless.transcription.duration",
		metric.WithDescription("Latency of local speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WarmupDuration, err = m.Float64Histogram("typeless.speech.warmup.duration",
		metric.WithDescription("Model load plus warm-up inference time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DownloadDuration, err = m.Float64Histogram("typeless.models.download.duration",
		metric.WithDescription("Duration of model acquisition by final status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(downloadBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Sessions, err = m.Int64Counter("typeless.sessions",
		metric.WithDescription("Finished recording sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DecodeRetries, err = m.Int64Counter("typeless.speech.decode_retries",
		metric.WithDescription("Fallback decoding passes after a failed inference."),
	); err != nil {
		return nil, err
	}
	if met.HotkeyEdges, err = m.Int64Counter("typeless.hotkey.edges",
		metric.WithDescription("Trigger key edges by direction."),
	); err != nil {
		return nil, err
	}
	if met.TapReenabled, err = m.Int64Counter("typeless.hotkey.tap_reenabled",
		metric.WithDescription("Keyboard tap re-enables after the OS disabled it."),
	); err != nil {
		return nil, err
	}
	if met.EdgesDropped, err = m.Int64Counter("typeless.hotkey.edges_dropped",
		metric.WithDescription("Trigger edges dropped because the consumer was not keeping up."),
	); err != nil {
		return nil, err
	}
	if met.Injections, err = m.Int64Counter("typeless.inject.deliveries",
		metric.WithDescription("Text deliveries by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.MirrorProbes, err = m.Int64Counter("typeless.models.mirror_probes",
		metric.WithDescription("Mirror probe results by mirror and status."),
	); err != nil {
		return nil, err
	}
	if met.DownloadAttempts, err = m.Int64Counter("typeless.models.download_attempts",
		metric.WithDescription("Archive download attempts by mirror and status."),
	); err != nil {
		return nil, err
	}
	if met.DownloadBytes, err = m.Int64Counter("typeless.models.download_bytes",
		metric.WithDescription("Archive bytes written to disk."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("typeless.active_sessions",
		metric.WithDescription("Number of non-terminal recording sessions (0 or 1)."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("typeless.http.request.duration",
		metric.WithDescription("Local endpoint latency by route and status."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordSession records a finished session with its outcome.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordEdge records a trigger edge.
func (m *Metrics) RecordEdge(ctx context.Context, edge string) {
	m.HotkeyEdges.Add(ctx, 1, metric.WithAttributes(attribute.String("edge", edge)))
}

// RecordInjection records a text delivery.
func (m *Metrics) RecordInjection(ctx context.Context, mode, status string) {
	m.Injections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordMirrorProbe records the result of probing one mirror.
func (m *Metrics) RecordMirrorProbe(ctx context.Context, mirror, status string) {
	m.MirrorProbes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mirror", mirror),
			attribute.String("status", status),
		),
	)
}

// RecordDownloadAttempt records one archive download attempt.
func (m *Metrics) RecordDownloadAttempt(ctx context.Context, mirror, status string) {
	m.DownloadAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mirror", mirror),
			attribute.String("status", status),
		),
	)
}
