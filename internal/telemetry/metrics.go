// Package telemetry provides OpenTelemetry instrumentation for the radar.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// RadarMeterName is the name used for the radar metrics meter
	RadarMeterName = "github.com/askwhyharsh/sonar/radar"
)

// RadarMetrics holds the OpenTelemetry instruments for the radar pipeline
type RadarMetrics struct {
	readings        metric.Int64Counter
	matchDuration   metric.Float64Histogram
	staleDropped    metric.Int64Counter
	persistFailures metric.Int64Counter
	activeWatches   metric.Int64UpDownCounter
}

// NewRadarMetrics creates a new RadarMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewRadarMetrics(provider metric.MeterProvider) (*RadarMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(RadarMeterName)

	readings, err := meter.Int64Counter(
		"sonar_radar_readings_total",
		metric.WithDescription("Location readings seen by the significance filter"),
		metric.WithUnit("{reading}"),
	)
	if err != nil {
		return nil, err
	}

	matchDuration, err := meter.Float64Histogram(
		"sonar_radar_match_duration_seconds",
		metric.WithDescription("Duration of nearby-user matching passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, err
	}

	staleDropped, err := meter.Int64Counter(
		"sonar_radar_stale_results_total",
		metric.WithDescription("Match results discarded because a newer coordinate was accepted or tracking stopped"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	persistFailures, err := meter.Int64Counter(
		"sonar_radar_persist_failures_total",
		metric.WithDescription("Failed writes of a user's own location"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	activeWatches, err := meter.Int64UpDownCounter(
		"sonar_radar_active_watches",
		metric.WithDescription("Location watches currently held"),
		metric.WithUnit("{watch}"),
	)
	if err != nil {
		return nil, err
	}

	return &RadarMetrics{
		readings:        readings,
		matchDuration:   matchDuration,
		staleDropped:    staleDropped,
		persistFailures: persistFailures,
		activeWatches:   activeWatches,
	}, nil
}

// RecordReading counts a reading by filter outcome
func (m *RadarMetrics) RecordReading(ctx context.Context, accepted bool) {
	if m == nil || m.readings == nil {
		return
	}
	outcome := "suppressed"
	if accepted {
		outcome = "accepted"
	}
	m.readings.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordMatch records a matching pass. mode is "nearby" or "all".
func (m *RadarMetrics) RecordMatch(ctx context.Context, mode string, duration time.Duration, err error) {
	if m == nil || m.matchDuration == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.matchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("result", result),
	))
}

// RecordStaleDrop counts a discarded match result
func (m *RadarMetrics) RecordStaleDrop(ctx context.Context) {
	if m == nil || m.staleDropped == nil {
		return
	}
	m.staleDropped.Add(ctx, 1)
}

// RecordPersistFailure counts a failed location write
func (m *RadarMetrics) RecordPersistFailure(ctx context.Context) {
	if m == nil || m.persistFailures == nil {
		return
	}
	m.persistFailures.Add(ctx, 1)
}

// WatchStarted and WatchStopped keep the active watch gauge
func (m *RadarMetrics) WatchStarted(ctx context.Context) {
	if m == nil || m.activeWatches == nil {
		return
	}
	m.activeWatches.Add(ctx, 1)
}

func (m *RadarMetrics) WatchStopped(ctx context.Context) {
	if m == nil || m.activeWatches == nil {
		return
	}
	m.activeWatches.Add(ctx, -1)
}
