// Package monitor runs the operational health checks over the pipeline:
// last-execution recency, data freshness, transaction volume anomalies, a
// production quality spot check, database connectivity, and host resource
// headroom. The checks never mutate data; the monitoring report and its
// alerts are the only output.
package monitor

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/pipeline"
	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/pkg/jsonio"
)

// ReportFileName is the monitoring report written under the processed dir.
const ReportFileName = "monitoring_report.json"

// Check thresholds.
const (
	lastRunThresholdHours  = 25
	freshnessWarningHours  = 2
	freshnessCriticalHours = 24
	volumeMinSamples       = 5
	qualityDegradedBelow   = 95
	hostCPUWarningPercent  = 90
	hostMemWarningPercent  = 90
	hostDiskWarningPercent = 90
)

// Alert is one raised monitoring alert.
type Alert struct {
	Severity  string `json:"severity"`
	Check     string `json:"check"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Report is one monitoring run's output.
type Report struct {
	MonitoringTimestamp string                 `json:"monitoring_timestamp"`
	PipelineHealth      string                 `json:"pipeline_health"`
	Checks              map[string]interface{} `json:"checks"`
	Alerts              []Alert                `json:"alerts"`
	OverallHealthScore  int                    `json:"overall_health_score"`
}

// hostUsage is one sample of host resource utilization, in percent.
type hostUsage struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// Monitor runs the health check battery. The clock and the host resource
// sampler are injectable so tests are independent of the machine they run
// on.
type Monitor struct {
	store        *store.Store
	processedDir string
	now          func() time.Time
	readHost     func(ctx context.Context) hostUsage
	log          *zap.Logger
}

// NewMonitor creates a monitor. processedDir is where the pipeline
// execution report is read from and the monitoring report is written.
func NewMonitor(st *store.Store, processedDir string, log *zap.Logger) *Monitor {
	return &Monitor{
		store:        st,
		processedDir: processedDir,
		now:          time.Now,
		readHost:     readHostUsage,
		log:          log,
	}
}

// Run executes every check and assembles the report with any alerts.
func (m *Monitor) Run(ctx context.Context) (*Report, error) {
	now := m.now().UTC()
	report := &Report{
		MonitoringTimestamp: now.Format(time.RFC3339),
		Checks:              make(map[string]interface{}, 6),
		Alerts:              []Alert{},
	}

	lastExec := m.checkLastExecution(now)
	freshness := m.checkDataFreshness(ctx, now)
	volume := m.checkVolumeAnomalies(ctx)
	quality := m.checkDataQuality(ctx)
	db := m.checkDBHealth(ctx)
	host := m.checkHostResources(ctx)

	report.Checks["last_execution"] = lastExec
	report.Checks["data_freshness"] = freshness
	report.Checks["data_volume_anomalies"] = volume
	report.Checks["data_quality"] = quality
	report.Checks["database_connectivity"] = db
	report.Checks["host_resources"] = host

	if lastExec["status"] == "critical" {
		report.Alerts = append(report.Alerts, Alert{
			Severity:  "critical",
			Check:     "last_execution",
			Message:   "Pipeline has not run in last 25 hours",
			Timestamp: now.Format(time.RFC3339),
		})
	}
	if anomaly, _ := volume["anomaly_detected"].(bool); anomaly {
		report.Alerts = append(report.Alerts, Alert{
			Severity:  "warning",
			Check:     "data_volume",
			Message:   "Transaction volume anomaly detected",
			Timestamp: now.Format(time.RFC3339),
		})
	}
	if db["status"] == "critical" {
		report.Alerts = append(report.Alerts, Alert{
			Severity:  "critical",
			Check:     "database_connectivity",
			Message:   "Database is unreachable",
			Timestamp: now.Format(time.RFC3339),
		})
	}
	if host["status"] == "warning" {
		report.Alerts = append(report.Alerts, Alert{
			Severity:  "warning",
			Check:     "host_resources",
			Message:   "Host resource usage above threshold",
			Timestamp: now.Format(time.RFC3339),
		})
	}

	report.PipelineHealth = "healthy"
	for _, a := range report.Alerts {
		if a.Severity == "critical" {
			report.PipelineHealth = "critical"
			break
		}
		report.PipelineHealth = "degraded"
	}

	if score, ok := quality["quality_score"].(int); ok {
		report.OverallHealthScore = score
	}

	m.log.Info("monitoring run completed",
		zap.String("pipeline_health", report.PipelineHealth),
		zap.Int("alerts", len(report.Alerts)))

	return report, nil
}

// checkLastExecution reads the pipeline execution report and flags a
// pipeline that has not finished within the recency threshold.
func (m *Monitor) checkLastExecution(now time.Time) map[string]interface{} {
	critical := map[string]interface{}{
		"status":               "critical",
		"last_run":             nil,
		"hours_since_last_run": nil,
		"threshold_hours":      lastRunThresholdHours,
	}

	var execReport struct {
		EndTime time.Time `json:"end_time"`
	}
	path := filepath.Join(m.processedDir, pipeline.ReportFileName)
	if err := jsonio.ReadFile(path, &execReport); err != nil || execReport.EndTime.IsZero() {
		return critical
	}

	hours := now.Sub(execReport.EndTime).Hours()
	status := "ok"
	if hours > lastRunThresholdHours {
		status = "critical"
	}
	return map[string]interface{}{
		"status":               status,
		"last_run":             execReport.EndTime.Format(time.RFC3339),
		"hours_since_last_run": round2(hours),
		"threshold_hours":      lastRunThresholdHours,
	}
}

// checkDataFreshness compares the newest production and warehouse records
// against now and grades the worst lag.
func (m *Monitor) checkDataFreshness(ctx context.Context, now time.Time) map[string]interface{} {
	const query = `
		SELECT
			(SELECT MAX(created_at) FROM production.customers),
			(SELECT MAX(created_at) FROM production.transactions),
			(SELECT MAX(d.full_date)
			 FROM warehouse.fact_sales f
			 JOIN warehouse.dim_date d ON f.date_key = d.date_key)`

	var prodTS, transTS, whDate *time.Time
	if err := m.store.DB().QueryRowContext(ctx, query).Scan(&prodTS, &transTS, &whDate); err != nil {
		return map[string]interface{}{"status": "critical", "error": err.Error()}
	}

	var maxLag *float64
	for _, ts := range []*time.Time{prodTS, transTS, whDate} {
		if ts == nil {
			continue
		}
		lag := now.Sub(ts.UTC()).Hours()
		if maxLag == nil || lag > *maxLag {
			maxLag = &lag
		}
	}

	status := "ok"
	switch {
	case maxLag == nil || *maxLag > freshnessCriticalHours:
		status = "critical"
	case *maxLag > freshnessWarningHours:
		status = "warning"
	}

	result := map[string]interface{}{
		"status":                   status,
		"production_latest_record": formatTS(prodTS),
		"warehouse_latest_record":  formatTS(whDate),
	}
	if maxLag != nil {
		result["max_lag_hours"] = round2(*maxLag)
	} else {
		result["max_lag_hours"] = nil
	}
	return result
}

// checkVolumeAnomalies compares the most recent day's transaction count
// against the trailing 30-day mean plus/minus three standard deviations.
func (m *Monitor) checkVolumeAnomalies(ctx context.Context) map[string]interface{} {
	const query = `
		SELECT DATE(t.transaction_date), COUNT(*)
		FROM production.transactions t
		GROUP BY DATE(t.transaction_date)
		ORDER BY DATE(t.transaction_date) DESC
		LIMIT 30`

	rows, err := m.store.DB().QueryContext(ctx, query)
	if err != nil {
		return map[string]interface{}{"status": "critical", "error": err.Error()}
	}
	defer rows.Close()

	var counts []float64
	for rows.Next() {
		var day time.Time
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return map[string]interface{}{"status": "critical", "error": err.Error()}
		}
		counts = append(counts, float64(count))
	}
	if err := rows.Err(); err != nil {
		return map[string]interface{}{"status": "critical", "error": err.Error()}
	}

	if len(counts) < volumeMinSamples {
		return map[string]interface{}{"status": "ok", "anomaly_detected": false}
	}

	todayCount := counts[0]
	mean, std := meanStddev(counts)
	low, high := mean-3*std, mean+3*std
	anomaly := todayCount > high || todayCount < low

	status := "ok"
	var anomalyType interface{}
	if anomaly {
		status = "anomaly_detected"
		if todayCount > mean {
			anomalyType = "spike"
		} else {
			anomalyType = "drop"
		}
	}

	return map[string]interface{}{
		"status":           status,
		"expected_range":   formatRange(low, high),
		"actual_count":     int(todayCount),
		"anomaly_detected": anomaly,
		"anomaly_type":     anomalyType,
	}
}

// checkDataQuality is a spot check on production: orphaned items cost 30
// points, null emails 20.
func (m *Monitor) checkDataQuality(ctx context.Context) map[string]interface{} {
	orphans, err := store.Scalar(ctx, m.store.DB(), `
		SELECT COUNT(*)
		FROM production.transaction_items ti
		LEFT JOIN production.transactions t ON ti.transaction_id = t.transaction_id
		WHERE t.transaction_id IS NULL`)
	if err != nil {
		return map[string]interface{}{"status": "critical", "error": err.Error()}
	}

	nulls, err := store.Scalar(ctx, m.store.DB(),
		"SELECT COUNT(*) FROM production.customers WHERE email IS NULL")
	if err != nil {
		return map[string]interface{}{"status": "critical", "error": err.Error()}
	}

	score := 100
	if orphans > 0 {
		score -= 30
	}
	if nulls > 0 {
		score -= 20
	}

	status := "ok"
	if score < qualityDegradedBelow {
		status = "degraded"
	}
	return map[string]interface{}{
		"status":          status,
		"quality_score":   score,
		"orphan_records":  orphans,
		"null_violations": nulls,
	}
}

// checkDBHealth measures round-trip time of a trivial query and reports
// the active connection count.
func (m *Monitor) checkDBHealth(ctx context.Context) map[string]interface{} {
	start := time.Now()
	if _, err := store.Scalar(ctx, m.store.DB(), "SELECT 1"); err != nil {
		return map[string]interface{}{"status": "critical", "error": err.Error()}
	}

	connections, err := store.Scalar(ctx, m.store.DB(), "SELECT COUNT(*) FROM pg_stat_activity")
	if err != nil {
		return map[string]interface{}{"status": "critical", "error": err.Error()}
	}

	return map[string]interface{}{
		"status":             "ok",
		"response_time_ms":   round2(float64(time.Since(start).Microseconds()) / 1000),
		"connections_active": connections,
	}
}

// checkHostResources samples CPU, memory and disk usage on the host
// running the pipeline.
func (m *Monitor) checkHostResources(ctx context.Context) map[string]interface{} {
	usage := m.readHost(ctx)

	status := "ok"
	if usage.CPUPercent > hostCPUWarningPercent ||
		usage.MemPercent > hostMemWarningPercent ||
		usage.DiskPercent > hostDiskWarningPercent {
		status = "warning"
	}

	return map[string]interface{}{
		"status":         status,
		"cpu_percent":    round2(usage.CPUPercent),
		"memory_percent": round2(usage.MemPercent),
		"disk_percent":   round2(usage.DiskPercent),
	}
}

// readHostUsage samples the live host via gopsutil. A sampler that errors
// leaves its field at zero rather than failing the check.
func readHostUsage(ctx context.Context) hostUsage {
	var usage hostUsage
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		usage.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		usage.MemPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		usage.DiskPercent = du.UsedPercent
	}
	return usage
}

// WriteReport persists the report under the processed dir.
func (m *Monitor) WriteReport(report *Report) error {
	return jsonio.WriteFile(filepath.Join(m.processedDir, ReportFileName), report)
}

func formatTS(ts *time.Time) interface{} {
	if ts == nil {
		return nil
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatRange(low, high float64) string {
	return fmt.Sprintf("%d-%d", int(low), int(high))
}

// meanStddev returns the mean and sample standard deviation.
func meanStddev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
