// Package metrics provides Prometheus metrics for the Conveyor pipeline.
//
// # Overview
//
// The metrics package provides:
//   - Prometheus-compatible metrics collection
//   - Pre-defined metrics for pipeline stages and record movement
//   - Timing utilities
//
// # Basic Usage
//
//	// Record a completed step
//	metrics.StepsExecuted.WithLabelValues("staging_to_production", "success").Inc()
//
//	// Track stage latency
//	timer := metrics.NewTimer("staging_to_production")
//	err := stage.Execute(ctx)
//	metrics.StepDuration.WithLabelValues("staging_to_production").Observe(timer.Stop().Seconds())
//
// Counter: monotonically increasing values (e.g. records transformed)
// Gauge: values that can go up or down (e.g. last quality score)
// Histogram: distribution of values (e.g. stage duration)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRuns counts completed pipeline runs by final status.
	// Labels: status (success/failed)
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"},
	)

	// StepsExecuted counts stage executions by outcome.
	// Labels: stage, status (success/failed)
	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_steps_executed_total",
			Help: "Total number of pipeline steps executed",
		},
		[]string{"stage", "status"},
	)

	// StepRetries counts retry attempts consumed per stage.
	StepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_step_retries_total",
			Help: "Total number of retry attempts consumed",
		},
		[]string{"stage"},
	)

	// StepDuration tracks stage wall-clock duration in seconds.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conveyor_step_duration_seconds",
			Help:    "Stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage"},
	)

	// RecordsProcessed counts records moved by the transformer and loader.
	// Labels: entity, disposition (loaded/inserted/filtered)
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_records_processed_total",
			Help: "Total number of records processed",
		},
		[]string{"entity", "disposition"},
	)

	// QualityScore holds the most recent overall data quality score (0-100).
	QualityScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conveyor_quality_score",
			Help: "Most recent overall data quality score",
		},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. The timer can be stopped
// multiple times, each returning the total elapsed time since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
