package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vireodata/conveyor/pkg/jsonio"
	"github.com/vireodata/conveyor/pkg/logger"
	"github.com/vireodata/conveyor/pkg/metrics"
)

// ReportFileName is the execution report written under the processed dir.
const ReportFileName = "pipeline_execution_report.json"

// Run is one pipeline execution. Created at orchestrator start, mutated as
// each step completes, persisted once at end. Terminal once written.
type Run struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Steps     []StepResult
	Errors    []string
	Warnings  []string
}

// Duration returns the total wall-clock duration of the run.
func (r *Run) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// executionReport is the JSON shape of the persisted execution report. It is
// the sole signal monitoring uses to determine hours since last success.
type executionReport struct {
	PipelineExecutionID  string                `json:"pipeline_execution_id"`
	StartTime            string                `json:"start_time"`
	EndTime              string                `json:"end_time"`
	TotalDurationSeconds float64               `json:"total_duration_seconds"`
	Status               Status                `json:"status"`
	StepsExecuted        map[string]StepResult `json:"steps_executed"`
	Errors               []string              `json:"errors"`
	Warnings             []string              `json:"warnings"`
}

// Orchestrator declares the ordered stage list and drives the Runner over
// it, halting on the first failed step.
type Orchestrator struct {
	stages       []Stage
	runner       *Runner
	processedDir string
	log          *zap.Logger
}

// NewOrchestrator creates an orchestrator over the given stages. The
// execution report is written under processedDir.
func NewOrchestrator(stages []Stage, runner *Runner, processedDir string, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		stages:       stages,
		runner:       runner,
		processedDir: processedDir,
		log:          log,
	}
}

// Run executes every stage in order. The first failed StepResult marks the
// run failed and stops processing; remaining stages are neither attempted
// nor recorded. The run report is always persisted, success or failure.
func (o *Orchestrator) Run(ctx context.Context) *Run {
	now := time.Now().UTC()
	run := &Run{
		ID:        fmt.Sprintf("PIPE_%s", now.Format("20060102_150405")),
		StartTime: now,
		Status:    StatusSuccess,
		Errors:    []string{},
		Warnings:  []string{},
	}

	ctx = logger.ContextWithRunID(ctx, run.ID)
	log := o.log.With(zap.String("run_id", run.ID))
	log.Info("starting pipeline", zap.Int("stages", len(o.stages)))

	for _, stage := range o.stages {
		result := o.runner.Run(ctx, stage)
		run.Steps = append(run.Steps, result)

		if result.Status == StatusFailed {
			run.Status = StatusFailed
			run.Errors = append(run.Errors, fmt.Sprintf("%s failed", stage.Name()))
			log.Error("pipeline halted",
				zap.String("stage", stage.Name()),
				zap.String("error", result.ErrorMessage))
			break
		}
	}

	run.EndTime = time.Now().UTC()
	metrics.PipelineRuns.WithLabelValues(string(run.Status)).Inc()

	if err := o.writeReport(run); err != nil {
		log.Error("failed to persist execution report", zap.Error(err))
	}

	log.Info("pipeline execution finished",
		zap.String("status", string(run.Status)),
		zap.Duration("duration", run.Duration()),
		zap.Int("steps_executed", len(run.Steps)))

	return run
}

// writeReport persists the run as pipeline_execution_report.json,
// overwriting the previous run's report.
func (o *Orchestrator) writeReport(run *Run) error {
	report := executionReport{
		PipelineExecutionID:  run.ID,
		StartTime:            run.StartTime.Format(time.RFC3339),
		EndTime:              run.EndTime.Format(time.RFC3339),
		TotalDurationSeconds: round2(run.Duration().Seconds()),
		Status:               run.Status,
		StepsExecuted:        make(map[string]StepResult, len(run.Steps)),
		Errors:               run.Errors,
		Warnings:             run.Warnings,
	}
	for _, step := range run.Steps {
		report.StepsExecuted[step.Name] = step
	}

	return jsonio.WriteFile(filepath.Join(o.processedDir, ReportFileName), report)
}
