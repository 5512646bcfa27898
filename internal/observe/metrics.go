// Package observe provides application-wide observability primitives for
// voxhall: OpenTelemetry metrics, distributed tracing, and trace-aware
// structured logging.
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

// meterName is the instrumentation scope name used for all voxhall metrics.
const meterName = "github.com/voxhall/voxhall"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Playback ---

	// PlaybackUnderruns counts real-time ticks served with silence.
	PlaybackUnderruns metric.Int64Counter

	// BufferResets counts hard resets of the playback buffer.
	BufferResets metric.Int64Counter

	// DataRequests counts need-data signals raised by the playback buffer.
	DataRequests metric.Int64Counter

	// BufferedSamples tracks the current playback buffer depth.
	BufferedSamples metric.Int64Gauge

	// --- Session ---

	// MessagesReceived counts inbound frames. Use with attribute:
	//   attribute.String("event", ...)
	MessagesReceived metric.Int64Counter

	// ReconnectAttempts counts reconnection attempts. Use with attribute:
	//   attribute.String("status", ...)
	ReconnectAttempts metric.Int64Counter

	// Heartbeats counts pings sent while the session is active.
	Heartbeats metric.Int64Counter

	// ConnectDuration tracks websocket dial plus handshake latency.
	ConnectDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live sessions. In practice zero
	// or one for this client; exported for fleet dashboards.
	ActiveSessions metric.Int64UpDownCounter

	// --- Audio ---

	// AudioSentSeconds accumulates captured audio shipped to the service.
	AudioSentSeconds metric.Float64Counter

	// AudioReceivedSeconds accumulates synthesized audio received.
	AudioReceivedSeconds metric.Float64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Playback.
	if met.PlaybackUnderruns, err = m.Int64Counter("voxhall.playback.underruns",
		metric.WithDescription("Real-time ticks served with silence."),
	); err != nil {
		return nil, err
	}
	if met.BufferResets, err = m.Int64Counter("voxhall.playback.resets",
		metric.WithDescription("Hard resets of the playback buffer."),
	); err != nil {
		return nil, err
	}
	if met.DataRequests, err = m.Int64Counter("voxhall.playback.data_requests",
		metric.WithDescription("Need-data signals raised by the playback buffer."),
	); err != nil {
		return nil, err
	}
	if met.BufferedSamples, err = m.Int64Gauge("voxhall.playback.buffered_samples",
		metric.WithDescription("Current playback buffer depth in samples."),
	); err != nil {
		return nil, err
	}

	// Session.
	if met.MessagesReceived, err = m.Int64Counter("voxhall.session.messages",
		metric.WithDescription("Inbound frames by event tag."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voxhall.session.reconnects",
		metric.WithDescription("Reconnection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Heartbeats, err = m.Int64Counter("voxhall.session.heartbeats",
		metric.WithDescription("Heartbeat pings sent while active."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voxhall.session.connect.duration",
		metric.WithDescription("Websocket dial and handshake latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxhall.session.active",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}

	// Audio.
	if met.AudioSentSeconds, err = m.Float64Counter("voxhall.audio.sent.seconds",
		metric.WithDescription("Captured audio shipped to the service."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.AudioReceivedSeconds, err = m.Float64Counter("voxhall.audio.received.seconds",
		metric.WithDescription("Synthesized audio received from the service."),
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

// RecordMessage is a convenience method that counts one inbound frame with
// its event tag.
func (m *Metrics) RecordMessage(ctx context.Context, event string) {
	m.MessagesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordReconnect is a convenience method that counts one reconnection
// attempt with its outcome.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
