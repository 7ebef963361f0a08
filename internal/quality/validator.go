// Package quality runs the fixed battery of data quality checks against the
// staging schema and emits a weighted quality score and pass/fail grade.
// Check failures lower the score but never fail the pipeline stage; the
// report is the only consumer-visible outcome.
package quality

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/pkg/jsonio"
	"github.com/vireodata/conveyor/pkg/metrics"
)

// ReportFileName is the quality report written under the quality dir.
const ReportFileName = "data_quality_report.json"

// Report is one validator invocation's output. Fully regenerated each run,
// never merged with prior reports.
type Report struct {
	CheckTimestamp      string                 `json:"check_timestamp"`
	ChecksPerformed     map[string]CheckResult `json:"checks_performed"`
	OverallQualityScore int                    `json:"overall_quality_score"`
	QualityGrade        string                 `json:"quality_grade"`
}

// Validator runs the check battery against staging.
type Validator struct {
	store *store.Store
	log   *zap.Logger
}

// NewValidator creates a validator over the given store.
func NewValidator(st *store.Store, log *zap.Logger) *Validator {
	return &Validator{store: st, log: log}
}

// Validate runs every check independently and assembles the weighted score.
// A failing check does not block the others; only a store error aborts the
// invocation.
func (v *Validator) Validate(ctx context.Context) (*Report, error) {
	report := &Report{
		CheckTimestamp:  time.Now().UTC().Format(time.RFC3339),
		ChecksPerformed: make(map[string]CheckResult, len(checks)),
	}

	deductions := make([]deduction, 0, len(checks))
	for _, c := range checks {
		violations, checkMetrics, err := c.run(ctx, v.store.DB())
		if err != nil {
			return nil, err
		}

		status := "passed"
		if violations > 0 {
			status = "failed"
		}
		report.ChecksPerformed[c.name] = CheckResult{Status: status, Metrics: checkMetrics}
		deductions = append(deductions, deduction{weight: c.weight, count: violations})

		v.log.Info("quality check completed",
			zap.String("check", c.name),
			zap.String("status", status),
			zap.Int64("violations", violations))
	}

	report.OverallQualityScore = computeScore(deductions)
	report.QualityGrade = gradeFor(report.OverallQualityScore)
	metrics.QualityScore.Set(float64(report.OverallQualityScore))

	v.log.Info("quality validation completed",
		zap.Int("score", report.OverallQualityScore),
		zap.String("grade", report.QualityGrade))

	return report, nil
}

// WriteReport persists the report under qualityDir, overwriting the
// previous run's report.
func (v *Validator) WriteReport(report *Report, qualityDir string) error {
	return jsonio.WriteFile(filepath.Join(qualityDir, ReportFileName), report)
}
