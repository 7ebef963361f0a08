// Package pipeline provides the step sequencer for the Conveyor warehouse
// pipeline: a retrying step runner and an orchestrator that executes the
// fixed stage order and assembles the run-level execution report.
//
// # Overview
//
// The pipeline package provides:
//   - Stage, the unit-of-work capability each pipeline step implements
//   - Runner, bounded retries with exponential backoff and timing
//   - Orchestrator, sequential execution with halt-on-first-failure
//   - Run/StepResult, the persisted execution report
//
// Stages execute strictly sequentially; no stage begins before the previous
// stage's StepResult is recorded. The runner's only suspension point is its
// backoff sleep between retry attempts.
package pipeline

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/vireodata/conveyor/pkg/conveyorerrors"
	"github.com/vireodata/conveyor/pkg/logger"
	"github.com/vireodata/conveyor/pkg/metrics"
)

// Status is the outcome of a step or a whole run.
type Status string

const (
	// StatusSuccess indicates the step or run completed without error
	StatusSuccess Status = "success"
	// StatusFailed indicates the step or run failed after exhausting retries
	StatusFailed Status = "failed"
)

// Stage is one unit of pipeline work. Stages are opaque to the orchestrator;
// success is a nil error, failure anything else.
type Stage interface {
	Name() string
	Execute(ctx context.Context) error
}

// stageFunc adapts a plain function to the Stage interface.
type stageFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (s stageFunc) Name() string                      { return s.name }
func (s stageFunc) Execute(ctx context.Context) error { return s.fn(ctx) }

// NewStage wraps a function as a named Stage.
func NewStage(name string, fn func(ctx context.Context) error) Stage {
	return stageFunc{name: name, fn: fn}
}

// StepResult captures the outcome of running one stage. Immutable once the
// step finishes; owned by the Run that produced it.
type StepResult struct {
	Name            string  `json:"-"`
	Status          Status  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
	RetryAttempts   int     `json:"retry_attempts"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// Runner executes a stage with bounded retries and exponential backoff.
// The sleeper is injectable so retry tests run instantly.
type Runner struct {
	// MaxRetries is the total number of attempts per stage
	MaxRetries int
	// Sleep suspends between attempts; defaults to time.Sleep
	Sleep func(time.Duration)

	log *zap.Logger
}

// NewRunner creates a Runner with the given attempt ceiling.
func NewRunner(maxRetries int, log *zap.Logger) *Runner {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Runner{
		MaxRetries: maxRetries,
		Sleep:      time.Sleep,
		log:        log,
	}
}

// Run attempts the stage up to MaxRetries times, sleeping 2^(attempt-1)
// seconds between failed attempts. All outcomes are encoded in the returned
// StepResult; stage errors never propagate to the caller.
func (r *Runner) Run(ctx context.Context, stage Stage) StepResult {
	log := r.log.With(zap.String("stage", stage.Name()))
	log.Info("starting step")

	ctx = logger.ContextWithStage(ctx, stage.Name())
	timer := metrics.NewTimer(stage.Name())

	var lastErr error
	for attempt := 1; attempt <= r.MaxRetries; attempt++ {
		err := stage.Execute(ctx)
		if err == nil {
			duration := timer.Stop()
			log.Info("completed step",
				zap.Duration("duration", duration),
				zap.Int("retry_attempts", attempt-1))

			metrics.StepsExecuted.WithLabelValues(stage.Name(), string(StatusSuccess)).Inc()
			metrics.StepDuration.WithLabelValues(stage.Name()).Observe(duration.Seconds())

			return StepResult{
				Name:            stage.Name(),
				Status:          StatusSuccess,
				DurationSeconds: round2(duration.Seconds()),
				RetryAttempts:   attempt - 1,
			}
		}

		lastErr = err
		log.Error("step attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.MaxRetries),
			zap.Bool("retryable", conveyorerrors.IsRetryable(err)),
			zap.Error(err))

		if attempt < r.MaxRetries {
			wait := time.Duration(1<<uint(attempt-1)) * time.Second
			metrics.StepRetries.WithLabelValues(stage.Name()).Inc()
			log.Info("retrying step", zap.Duration("backoff", wait))
			r.Sleep(wait)
		}
	}

	duration := timer.Stop()
	log.Error("step failed after exhausting retries",
		zap.Duration("duration", duration),
		zap.Error(lastErr))

	metrics.StepsExecuted.WithLabelValues(stage.Name(), string(StatusFailed)).Inc()
	metrics.StepDuration.WithLabelValues(stage.Name()).Observe(duration.Seconds())

	return StepResult{
		Name:            stage.Name(),
		Status:          StatusFailed,
		DurationSeconds: round2(duration.Seconds()),
		RetryAttempts:   r.MaxRetries,
		ErrorMessage:    lastErr.Error(),
	}
}

// round2 rounds to two decimal places for report fields.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
