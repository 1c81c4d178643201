// Package telemetry provides OpenTelemetry integration for the application.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pairreview/pairreview/pkg/logger"
)

const (
	// MeterName is the default meter name for the application
	MeterName = "github.com/pairreview/pairreview"
)

// Metrics holds all application metrics
type Metrics struct {
	// Analysis run metrics
	RunsTotal    metric.Int64Counter
	RunDuration  metric.Float64Histogram
	ActiveRuns   metric.Int64UpDownCounter
	RunsByStatus metric.Int64Counter

	// Voice metrics
	VoiceExecutionsTotal metric.Int64Counter
	VoiceExecutionErrors metric.Int64Counter
	VoiceDuration        metric.Float64Histogram

	// Suggestion metrics
	SuggestionsPersisted metric.Int64Counter

	// Progress bus metrics
	BusSubscribers metric.Int64UpDownCounter
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		var err error
		globalMetrics, err = initMetrics()
		if err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			// Return empty metrics to avoid nil pointer
			globalMetrics = &Metrics{}
		}
	})
	return globalMetrics
}

func initMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	m := &Metrics{}

	var err error

	m.RunsTotal, err = meter.Int64Counter(
		"pairreview_analysis_runs_total",
		metric.WithDescription("Total number of analysis runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram(
		"pairreview_analysis_run_duration_seconds",
		metric.WithDescription("Duration of analysis runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveRuns, err = meter.Int64UpDownCounter(
		"pairreview_active_runs",
		metric.WithDescription("Number of currently running analyses"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsByStatus, err = meter.Int64Counter(
		"pairreview_runs_by_status_total",
		metric.WithDescription("Total number of analysis runs by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.VoiceExecutionsTotal, err = meter.Int64Counter(
		"pairreview_voice_executions_total",
		metric.WithDescription("Total number of provider voice executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	m.VoiceExecutionErrors, err = meter.Int64Counter(
		"pairreview_voice_execution_errors_total",
		metric.WithDescription("Total number of provider voice failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.VoiceDuration, err = meter.Float64Histogram(
		"pairreview_voice_duration_seconds",
		metric.WithDescription("Duration of provider voice executions in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	m.SuggestionsPersisted, err = meter.Int64Counter(
		"pairreview_suggestions_persisted_total",
		metric.WithDescription("Total number of AI suggestions written to the store"),
		metric.WithUnit("{suggestion}"),
	)
	if err != nil {
		return nil, err
	}

	m.BusSubscribers, err = meter.Int64UpDownCounter(
		"pairreview_bus_subscribers",
		metric.WithDescription("Number of connected progress stream subscribers"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("Metrics initialized successfully")
	return m, nil
}

// RecordRunStarted records that an analysis run has started
func (m *Metrics) RecordRunStarted(ctx context.Context, provider, configType string) {
	if m.RunsTotal != nil {
		m.RunsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("config_type", configType),
			),
		)
	}
	if m.ActiveRuns != nil {
		m.ActiveRuns.Add(ctx, 1)
	}
}

// RecordRunCompleted records that an analysis run reached a terminal status
func (m *Metrics) RecordRunCompleted(ctx context.Context, status string, durationSeconds float64) {
	if m.ActiveRuns != nil {
		m.ActiveRuns.Add(ctx, -1)
	}
	if m.RunsByStatus != nil {
		m.RunsByStatus.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
	if m.RunDuration != nil {
		m.RunDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordVoiceExecution records a single provider voice execution
func (m *Metrics) RecordVoiceExecution(ctx context.Context, provider string, success bool, durationSeconds float64) {
	if m.VoiceExecutionsTotal != nil {
		m.VoiceExecutionsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.Bool("success", success),
			),
		)
	}
	if !success && m.VoiceExecutionErrors != nil {
		m.VoiceExecutionErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("provider", provider)),
		)
	}
	if m.VoiceDuration != nil {
		m.VoiceDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(attribute.String("provider", provider)),
		)
	}
}

// RecordSuggestions records persisted AI suggestions
func (m *Metrics) RecordSuggestions(ctx context.Context, provider string, count int64) {
	if m.SuggestionsPersisted == nil || count == 0 {
		return
	}
	m.SuggestionsPersisted.Add(ctx, count,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordSubscriber records a progress subscriber connect (+1) or disconnect (-1)
func (m *Metrics) RecordSubscriber(ctx context.Context, delta int64) {
	if m.BusSubscribers != nil {
		m.BusSubscribers.Add(ctx, delta)
	}
}
