// Package observe holds the OpenTelemetry instruments recorded by the ambience
// engine. Components default to [DefaultMetrics]; tests build their own with
// [NewMetrics] over a ManualReader-backed provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/liuscraft/orion-ambience"

// Metrics holds every instrument of the engine. Safe for concurrent use.
type Metrics struct {
	// AssetLoads counts finished loads. Attribute: status=ready|failed.
	AssetLoads metric.Int64Counter

	// AssetLoadDuration tracks fetch+decode latency per asset.
	AssetLoadDuration metric.Float64Histogram

	// Playbacks counts started instances. Attributes: bus, mode.
	Playbacks metric.Int64Counter

	// PlaybackRejects counts play requests for assets that were not ready.
	PlaybackRejects metric.Int64Counter

	// ActivePlaybacks tracks live instances across all buses.
	ActivePlaybacks metric.Int64UpDownCounter

	// SchedulerFires counts scheduler firings. Attribute: asset.
	SchedulerFires metric.Int64Counter

	// GateTransitions counts ducker gate flips. Attribute: gate=open|closed.
	GateTransitions metric.Int64Counter

	// DuckMultiplier reports the duck multiplier after each ramp step.
	DuckMultiplier metric.Float64Gauge

	// VoiceLinkEvents counts events received from the voice source. Attribute: type.
	VoiceLinkEvents metric.Int64Counter

	// InitFailures counts failed engine initializations.
	InitFailures metric.Int64Counter
}

var loadBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AssetLoads, err = m.Int64Counter("ambience.asset.loads",
		metric.WithDescription("Finished asset loads by status."),
	); err != nil {
		return nil, err
	}
	if met.AssetLoadDuration, err = m.Float64Histogram("ambience.asset.load.duration",
		metric.WithDescription("Latency of fetching and decoding one asset."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(loadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Playbacks, err = m.Int64Counter("ambience.playbacks",
		metric.WithDescription("Started playback instances by bus and mode."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackRejects, err = m.Int64Counter("ambience.playback.rejects",
		metric.WithDescription("Playback requests for assets that were not ready."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlaybacks, err = m.Int64UpDownCounter("ambience.active_playbacks",
		metric.WithDescription("Number of live playback instances."),
	); err != nil {
		return nil, err
	}
	if met.SchedulerFires, err = m.Int64Counter("ambience.scheduler.fires",
		metric.WithDescription("Scheduler firings by asset."),
	); err != nil {
		return nil, err
	}
	if met.GateTransitions, err = m.Int64Counter("ambience.ducker.gate_transitions",
		metric.WithDescription("Ducker gate transitions by resulting gate."),
	); err != nil {
		return nil, err
	}
	if met.DuckMultiplier, err = m.Float64Gauge("ambience.ducker.multiplier",
		metric.WithDescription("Current duck multiplier applied to ducked buses."),
	); err != nil {
		return nil, err
	}
	if met.VoiceLinkEvents, err = m.Int64Counter("ambience.voicelink.events",
		metric.WithDescription("Voice source events by type."),
	); err != nil {
		return nil, err
	}
	if met.InitFailures, err = m.Int64Counter("ambience.init.failures",
		metric.WithDescription("Failed engine initializations."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance bound to the global
// meter provider. Panics if instrument creation fails.
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

func (m *Metrics) RecordAssetLoad(ctx context.Context, status string, seconds float64) {
	m.AssetLoads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.AssetLoadDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordPlaybackStarted(ctx context.Context, bus, mode string) {
	m.Playbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bus", bus),
		attribute.String("mode", mode),
	))
	m.ActivePlaybacks.Add(ctx, 1)
}

func (m *Metrics) RecordPlaybackEnded(ctx context.Context) {
	m.ActivePlaybacks.Add(ctx, -1)
}

func (m *Metrics) RecordPlaybackRejected(ctx context.Context, bus string) {
	m.PlaybackRejects.Add(ctx, 1, metric.WithAttributes(attribute.String("bus", bus)))
}

func (m *Metrics) RecordSchedulerFire(ctx context.Context, asset string) {
	m.SchedulerFires.Add(ctx, 1, metric.WithAttributes(attribute.String("asset", asset)))
}

func (m *Metrics) RecordGateTransition(ctx context.Context, gate string) {
	m.GateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", gate)))
}

func (m *Metrics) RecordDuckMultiplier(ctx context.Context, value float64) {
	m.DuckMultiplier.Record(ctx, value)
}

func (m *Metrics) RecordVoiceLinkEvent(ctx context.Context, eventType string) {
	m.VoiceLinkEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) RecordInitFailure(ctx context.Context) {
	m.InitFailures.Add(ctx, 1)
}
