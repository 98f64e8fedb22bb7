// Package observe provides the OpenTelemetry metric instruments of the
// lighting pipeline and the Prometheus bridge that exposes them on /metrics.
//
// Tests should use [NewMetrics] with their own [metric.MeterProvider];
// [DefaultMetrics] is bound to the global provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all lamper metrics.
const meterName = "github.com/oszuidwest/zwfm-lamper"

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// FramesCaptured counts frames read from the audio source.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts items discarded by a full queue. Use with
	// attribute.String("queue", ...).
	FramesDropped metric.Int64Counter

	// AnalysisDuration tracks the time spent turning one frame into an update.
	AnalysisDuration metric.Float64Histogram

	// Commands counts control commands. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// HealthChecks counts device health checks by status.
	HealthChecks metric.Int64Counter

	// Reconnects counts reconnects after a failed health check.
	Reconnects metric.Int64Counter

	// DeviceConnected is 1 while the light answers health checks.
	DeviceConnected metric.Int64Gauge

	// Brightness is the last brightness sent, in percent.
	Brightness metric.Int64Gauge

	// DominantFrequency is the dominant frequency of the last frame.
	DominantFrequency metric.Float64Gauge

	// InputLevel is the last frame's level in dBFS. Use with
	// attribute.String("kind", "rms"|"peak").
	InputLevel metric.Float64Gauge

	// Clips counts samples at or near full scale.
	Clips metric.Int64Counter
}

// analysisBuckets are histogram boundaries in seconds. A frame lasts about
// 46ms, so anything near that is a problem.
var analysisBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("lamper.frames.captured",
		metric.WithDescription("Audio frames read from the source."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("lamper.frames.dropped",
		metric.WithDescription("Items discarded by a full pipeline queue."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("lamper.analysis.duration",
		metric.WithDescription("Time to analyse one audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("lamper.device.commands",
		metric.WithDescription("Control commands by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.HealthChecks, err = m.Int64Counter("lamper.device.health_checks",
		metric.WithDescription("Device health checks by status."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("lamper.device.reconnects",
		metric.WithDescription("Reconnects after lost contact with the device."),
	); err != nil {
		return nil, err
	}
	if met.DeviceConnected, err = m.Int64Gauge("lamper.device.connected",
		metric.WithDescription("1 while the device answers health checks."),
	); err != nil {
		return nil, err
	}
	if met.Brightness, err = m.Int64Gauge("lamper.light.brightness",
		metric.WithDescription("Last brightness sent to the device."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}
	if met.DominantFrequency, err = m.Float64Gauge("lamper.audio.dominant_frequency",
		metric.WithDescription("Dominant frequency of the last analysed frame."),
		metric.WithUnit("Hz"),
	); err != nil {
		return nil, err
	}
	if met.InputLevel, err = m.Float64Gauge("lamper.audio.level",
		metric.WithDescription("Level of the last analysed frame."),
		metric.WithUnit("dBFS"),
	); err != nil {
		return nil, err
	}
	if met.Clips, err = m.Int64Counter("lamper.audio.clips",
		metric.WithDescription("Samples at or near full scale."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance bound to
// [otel.GetMeterProvider]. It panics if instrument creation fails.
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

// RecordCommand counts one control command.
func (m *Metrics) RecordCommand(ctx context.Context, kind, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordHealthCheck counts one health check and updates the connected gauge.
func (m *Metrics) RecordHealthCheck(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.HealthChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.SetConnected(ctx, ok)
}

// SetConnected sets the connected gauge.
func (m *Metrics) SetConnected(ctx context.Context, connected bool) {
	var v int64
	if connected {
		v = 1
	}
	m.DeviceConnected.Record(ctx, v)
}

// RecordDrops counts n items dropped by queue.
func (m *Metrics) RecordDrops(ctx context.Context, queue string, n int64) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, n, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordLevels records the input level of one analysed frame.
func (m *Metrics) RecordLevels(ctx context.Context, rms, peak float64, clipped int) {
	m.InputLevel.Record(ctx, rms, metric.WithAttributes(attribute.String("kind", "rms")))
	m.InputLevel.Record(ctx, peak, metric.WithAttributes(attribute.String("kind", "peak")))
	if clipped > 0 {
		m.Clips.Add(ctx, int64(clipped))
	}
}
