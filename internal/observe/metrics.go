// Package observe provides application-wide observability primitives for the
// voxgate gateway: OpenTelemetry metrics, distributed tracing, and structured
// logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxgate metrics.
const meterName = "github.com/voxgate/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SynthesisDuration tracks the latency of one engine synthesis call.
	SynthesisDuration metric.Float64Histogram

	// ChunksEmitted counts audio chunks placed on session send queues.
	ChunksEmitted metric.Int64Counter

	// GatewayErrors counts terminal session errors. Use with attribute:
	//   attribute.String("code", ...)
	GatewayErrors metric.Int64Counter

	// SessionsCreated counts sessions registered over the process lifetime.
	SessionsCreated metric.Int64Counter

	// ActiveSessions tracks the number of currently registered sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SendQueueDepth samples the send queue depth after each chunk enqueue.
	SendQueueDepth metric.Int64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech synthesis latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("voxgate.synthesis.duration",
		metric.WithDescription("Latency of one engine synthesis call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunksEmitted, err = m.Int64Counter("voxgate.chunks.emitted",
		metric.WithDescription("Audio chunks placed on session send queues."),
	); err != nil {
		return nil, err
	}
	if met.GatewayErrors, err = m.Int64Counter("voxgate.errors",
		metric.WithDescription("Terminal session errors, by code."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCreated, err = m.Int64Counter("voxgate.sessions.created",
		metric.WithDescription("Sessions registered over the process lifetime."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.sessions.active",
		metric.WithDescription("Currently registered sessions."),
	); err != nil {
		return nil, err
	}
	if met.SendQueueDepth, err = m.Int64Histogram("voxgate.send_queue.depth",
		metric.WithDescription("Send queue depth sampled after each chunk enqueue."),
	); err != nil {
		return nil, err
	}

	return met, nil
}
