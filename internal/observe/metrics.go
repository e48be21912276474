// Package observe provides application-wide observability primitives for
// npcforge: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all npcforge metrics.
const meterName = "github.com/MrWong99/npcforge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
//
// A nil *Metrics is valid for the Record* helpers and records nothing.
type Metrics struct {
	// --- Store ---

	// StoreOperations counts EntityStore calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreOperations metric.Int64Counter

	// StoreDuration tracks EntityStore call latency by operation.
	StoreDuration metric.Float64Histogram

	// Offspring counts NPCs created by breeding.
	Offspring metric.Int64Counter

	// --- Chat ---

	// ChatFramesReceived counts inbound chat frames. Use with attribute:
	//   attribute.String("side", "client"|"server")
	ChatFramesReceived metric.Int64Counter

	// ChatFramesDropped counts malformed inbound frames that were discarded.
	ChatFramesDropped metric.Int64Counter

	// ChatMessagesSent counts outbound chat frames.
	ChatMessagesSent metric.Int64Counter

	// ChatReconnects counts reconnect dial attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	ChatReconnects metric.Int64Counter

	// ActiveChatSessions tracks the number of open chat WebSocket sessions on
	// the server side.
	ActiveChatSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for store
// calls, which range from sub-millisecond map lookups to database round trips.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StoreOperations, err = m.Int64Counter("npcforge.store.operations",
		metric.WithDescription("Total NPC store operations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("npcforge.store.duration",
		metric.WithDescription("Latency of NPC store operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Offspring, err = m.Int64Counter("npcforge.breed.offspring",
		metric.WithDescription("Total NPCs created by breeding."),
	); err != nil {
		return nil, err
	}

	if met.ChatFramesReceived, err = m.Int64Counter("npcforge.chat.frames_received",
		metric.WithDescription("Total inbound chat frames by side."),
	); err != nil {
		return nil, err
	}
	if met.ChatFramesDropped, err = m.Int64Counter("npcforge.chat.frames_dropped",
		metric.WithDescription("Total malformed inbound chat frames that were discarded."),
	); err != nil {
		return nil, err
	}
	if met.ChatMessagesSent, err = m.Int64Counter("npcforge.chat.messages_sent",
		metric.WithDescription("Total outbound chat frames by side."),
	); err != nil {
		return nil, err
	}
	if met.ChatReconnects, err = m.Int64Counter("npcforge.chat.reconnects",
		metric.WithDescription("Total chat reconnect attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveChatSessions, err = m.Int64UpDownCounter("npcforge.chat.active_sessions",
		metric.WithDescription("Number of open chat WebSocket sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("npcforge.http.request.duration",
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

// RecordStoreOperation records one store call with its outcome and latency.
func (m *Metrics) RecordStoreOperation(ctx context.Context, op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
	m.StoreDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordOffspring records one NPC created by breeding.
func (m *Metrics) RecordOffspring(ctx context.Context) {
	if m == nil {
		return
	}
	m.Offspring.Add(ctx, 1)
}

// RecordFrameReceived records an inbound chat frame on the given side
// ("client" or "server").
func (m *Metrics) RecordFrameReceived(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.ChatFramesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

// RecordFrameDropped records a discarded malformed chat frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.ChatFramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

// RecordMessageSent records an outbound chat frame.
func (m *Metrics) RecordMessageSent(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.ChatMessagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

// RecordReconnect records a reconnect dial attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.ChatReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// SessionOpened increments the active chat session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveChatSessions.Add(ctx, 1)
}

// SessionClosed decrements the active chat session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveChatSessions.Add(ctx, -1)
}
