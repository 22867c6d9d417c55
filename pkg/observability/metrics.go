// Package observability provides OpenTelemetry instrumentation for daemonstress.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/grokify/daemonstress"
)

// Metrics holds all daemonstress metrics. A nil *Metrics is valid and records
// nothing, which is what the detached role processes use.
type Metrics struct {
	// Operation metrics
	DaemonsCreated metric.Int64Counter
	ReadErrors     metric.Int64Counter

	// Process creation metrics
	SpawnRetries  metric.Int64Counter
	SpawnFailures metric.Int64Counter
	BackoffDelay  metric.Float64Histogram

	// Run metrics
	ActiveRuns  metric.Int64UpDownCounter
	RunDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments registered.
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}

	meter := meterProvider.Meter(instrumentationName)
	m := &Metrics{}

	var err error

	m.DaemonsCreated, err = meter.Int64Counter(
		"daemonstress.daemons.created",
		metric.WithDescription("Total number of processes that completed daemonization"),
		metric.WithUnit("{daemon}"),
	)
	if err != nil {
		return nil, err
	}

	m.ReadErrors, err = meter.Int64Counter(
		"daemonstress.notify.read.errors",
		metric.WithDescription("Unexpected errors reading the notification channel"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.SpawnRetries, err = meter.Int64Counter(
		"daemonstress.spawn.retries",
		metric.WithDescription("Process creations retried after a transient failure"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	m.SpawnFailures, err = meter.Int64Counter(
		"daemonstress.spawn.failures",
		metric.WithDescription("Process creations that failed without retry"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	m.BackoffDelay, err = meter.Float64Histogram(
		"daemonstress.spawn.backoff",
		metric.WithDescription("Delay slept before retrying process creation"),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(100, 200, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveRuns, err = meter.Int64UpDownCounter(
		"daemonstress.runs.active",
		metric.WithDescription("Number of stressor runs in progress"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram(
		"daemonstress.run.duration",
		metric.WithDescription("Stressor run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDaemonCreated records one notification received from a daemon.
func (m *Metrics) RecordDaemonCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.DaemonsCreated.Add(ctx, 1)
}

// RecordReadError records an unexpected notification read error.
func (m *Metrics) RecordReadError(ctx context.Context) {
	if m == nil {
		return
	}
	m.ReadErrors.Add(ctx, 1)
}

// RecordSpawnRetry records a transient creation failure and the delay slept
// before the next attempt.
func (m *Metrics) RecordSpawnRetry(ctx context.Context, role string, delay time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("role", role))
	m.SpawnRetries.Add(ctx, 1, attrs)
	m.BackoffDelay.Record(ctx, float64(delay.Microseconds()), attrs)
}

// RecordSpawnFailure records a creation failure that was not retried.
func (m *Metrics) RecordSpawnFailure(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.SpawnFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
	))
}

// RunStart should be called when a run starts.
func (m *Metrics) RunStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(ctx, 1)
}

// RunEnd should be called when a run ends.
func (m *Metrics) RunEnd(ctx context.Context, end string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(ctx, -1)
	m.RunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("end", end),
	))
}
