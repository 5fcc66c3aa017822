// Package observe provides application-wide observability primitives for
// voxgate: OpenTelemetry metrics, tracing helpers, and structured-log
// enrichment.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// Prometheus exporter bridge is available via [InitProvider] so that
// metrics can be scraped via the standard /metrics endpoint. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxgate/voxgate/pkg/vad"
	"github.com/voxgate/voxgate/pkg/vad/energy"
)

// meterName is the instrumentation scope name used for all voxgate metrics.
const meterName = "github.com/voxgate/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types
// handle their own synchronisation.
type Metrics struct {
	// ChunksProcessed counts audio chunks fed to the detector. Use with
	// attribute.String("classification", "speech"|"silence").
	ChunksProcessed metric.Int64Counter

	// Transitions counts detector state changes. Use with
	// attribute.String("state", ...).
	Transitions metric.Int64Counter

	// ChunkEnergy tracks the distribution of normalized RMS energy per chunk.
	ChunkEnergy metric.Float64Histogram

	// Utterances counts completed speech segments emitted by the segmenter.
	Utterances metric.Int64Counter

	// UtteranceDuration tracks the length of completed speech segments.
	UtteranceDuration metric.Float64Histogram

	// EventsDropped counts transition events dropped because a subscriber
	// buffer was full.
	EventsDropped metric.Int64Counter

	// ActiveSubscribers tracks the number of live event subscriptions.
	ActiveSubscribers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time for the
	// observability endpoints. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// energyBuckets spans the normalized RMS range with extra resolution
// around typical silence thresholds.
var energyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// utteranceBuckets covers typical spoken-utterance lengths in seconds.
var utteranceBuckets = []float64{
	0.25, 0.5, 1, 2, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunksProcessed, err = m.Int64Counter("voxgate.chunks.processed",
		metric.WithDescription("Total audio chunks processed by classification."),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("voxgate.transitions",
		metric.WithDescription("Total detector state transitions by resulting state."),
	); err != nil {
		return nil, err
	}
	if met.ChunkEnergy, err = m.Float64Histogram("voxgate.chunk.energy",
		metric.WithDescription("Normalized RMS energy per processed chunk."),
		metric.WithExplicitBucketBoundaries(energyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxgate.utterances",
		metric.WithDescription("Total completed speech segments."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("voxgate.utterance.duration",
		metric.WithDescription("Duration of completed speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("voxgate.events.dropped",
		metric.WithDescription("Transition events dropped due to full subscriber buffers."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("voxgate.active_subscribers",
		metric.WithDescription("Number of live detector event subscriptions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating
// it on first call using [otel.GetMeterProvider]. Subsequent calls return
// the same pointer. Panics if instrument creation fails (should not
// happen with the global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity
// at call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// VADObserver returns an [energy.Observer] that records per-chunk
// measurements onto m. Install it on an energy.Engine so that every
// detector it creates reports chunk counts and energy distribution.
func (m *Metrics) VADObserver(ctx context.Context) energy.Observer {
	return func(e float64, _ vad.ActivityState, speechFrame bool) {
		classification := "silence"
		if speechFrame {
			classification = "speech"
		}
		m.ChunksProcessed.Add(ctx, 1,
			metric.WithAttributes(attribute.String("classification", classification)),
		)
		m.ChunkEnergy.Record(ctx, e)
	}
}

// VADDropHandler returns an [energy.DropHandler] that counts dropped
// transition events.
func (m *Metrics) VADDropHandler(ctx context.Context) energy.DropHandler {
	return func(vad.ActivityEvent) {
		m.EventsDropped.Add(ctx, 1)
	}
}

// VADSubscriptionHook returns an [energy.SubscriptionHook] that tracks
// the number of live event subscriptions.
func (m *Metrics) VADSubscriptionHook(ctx context.Context) energy.SubscriptionHook {
	return func(delta int) {
		m.ActiveSubscribers.Add(ctx, int64(delta))
	}
}

// RecordTransition records a detector state transition.
func (m *Metrics) RecordTransition(ctx context.Context, state vad.ActivityState) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state.String())),
	)
}

// RecordUtterance records a completed speech segment and its duration.
func (m *Metrics) RecordUtterance(ctx context.Context, d time.Duration) {
	m.Utterances.Add(ctx, 1)
	m.UtteranceDuration.Record(ctx, d.Seconds())
}
