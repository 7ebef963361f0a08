package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/pkg/jsonio"
)

func writeExecutionReport(t *testing.T, dir string, endTime time.Time) {
	t.Helper()
	report := map[string]interface{}{
		"pipeline_execution_id": "PIPE_20260827_100000",
		"end_time":              endTime.UTC().Format(time.RFC3339),
		"status":                "success",
	}
	require.NoError(t, jsonio.WriteFile(filepath.Join(dir, "pipeline_execution_report.json"), report))
}

func newTestMonitor(t *testing.T, dir string) (*Monitor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := NewMonitor(store.NewWithDB(db), dir, zap.NewNop())
	m.readHost = func(ctx context.Context) hostUsage {
		return hostUsage{CPUPercent: 10, MemPercent: 20, DiskPercent: 30}
	}
	return m, mock
}

func TestCheckLastExecutionRecentRun(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	writeExecutionReport(t, dir, now.Add(-2*time.Hour))

	m, _ := newTestMonitor(t, dir)
	result := m.checkLastExecution(now)

	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, 2.0, result["hours_since_last_run"])
}

func TestCheckLastExecutionStaleRun(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	writeExecutionReport(t, dir, now.Add(-26*time.Hour))

	m, _ := newTestMonitor(t, dir)
	result := m.checkLastExecution(now)

	assert.Equal(t, "critical", result["status"])
}

func TestCheckLastExecutionMissingReport(t *testing.T) {
	m, _ := newTestMonitor(t, t.TempDir())
	result := m.checkLastExecution(time.Now().UTC())

	assert.Equal(t, "critical", result["status"])
	assert.Nil(t, result["last_run"])
}

func TestCheckDataQualityScoring(t *testing.T) {
	tests := []struct {
		name           string
		orphans, nulls int64
		expectedScore  int
		expectedStatus string
	}{
		{"clean", 0, 0, 100, "ok"},
		{"orphans only", 3, 0, 70, "degraded"},
		{"nulls only", 0, 2, 80, "degraded"},
		{"both", 1, 1, 50, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock := newTestMonitor(t, t.TempDir())
			mock.ExpectQuery("SELECT COUNT").WillReturnRows(
				sqlmock.NewRows([]string{"count"}).AddRow(tt.orphans))
			mock.ExpectQuery("SELECT COUNT").WillReturnRows(
				sqlmock.NewRows([]string{"count"}).AddRow(tt.nulls))

			result := m.checkDataQuality(context.Background())
			assert.Equal(t, tt.expectedScore, result["quality_score"])
			assert.Equal(t, tt.expectedStatus, result["status"])
		})
	}
}

func TestCheckVolumeAnomalies(t *testing.T) {
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	t.Run("too few samples", func(t *testing.T) {
		m, mock := newTestMonitor(t, t.TempDir())
		rows := sqlmock.NewRows([]string{"date", "count"}).
			AddRow(day, int64(100)).
			AddRow(day.AddDate(0, 0, -1), int64(110))
		mock.ExpectQuery("SELECT DATE").WillReturnRows(rows)

		result := m.checkVolumeAnomalies(context.Background())
		assert.Equal(t, "ok", result["status"])
		assert.Equal(t, false, result["anomaly_detected"])
	})

	t.Run("steady volume", func(t *testing.T) {
		m, mock := newTestMonitor(t, t.TempDir())
		rows := sqlmock.NewRows([]string{"date", "count"})
		for i := 0; i < 10; i++ {
			rows.AddRow(day.AddDate(0, 0, -i), int64(100+i%3))
		}
		mock.ExpectQuery("SELECT DATE").WillReturnRows(rows)

		result := m.checkVolumeAnomalies(context.Background())
		assert.Equal(t, "ok", result["status"])
		assert.Equal(t, false, result["anomaly_detected"])
	})

	t.Run("spike detected", func(t *testing.T) {
		m, mock := newTestMonitor(t, t.TempDir())
		rows := sqlmock.NewRows([]string{"date", "count"}).
			AddRow(day, int64(10000))
		for i := 1; i < 10; i++ {
			rows.AddRow(day.AddDate(0, 0, -i), int64(100+i%3))
		}
		mock.ExpectQuery("SELECT DATE").WillReturnRows(rows)

		result := m.checkVolumeAnomalies(context.Background())
		assert.Equal(t, "anomaly_detected", result["status"])
		assert.Equal(t, true, result["anomaly_detected"])
		assert.Equal(t, "spike", result["anomaly_type"])
	})
}

func TestCheckHostResources(t *testing.T) {
	tests := []struct {
		name           string
		usage          hostUsage
		expectedStatus string
	}{
		{"headroom", hostUsage{CPUPercent: 10, MemPercent: 20, DiskPercent: 30}, "ok"},
		{"at threshold", hostUsage{CPUPercent: 90, MemPercent: 90, DiskPercent: 90}, "ok"},
		{"cpu saturated", hostUsage{CPUPercent: 97}, "warning"},
		{"memory saturated", hostUsage{MemPercent: 95}, "warning"},
		{"disk full", hostUsage{DiskPercent: 99}, "warning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMonitor(t, t.TempDir())
			m.readHost = func(ctx context.Context) hostUsage { return tt.usage }

			result := m.checkHostResources(context.Background())
			assert.Equal(t, tt.expectedStatus, result["status"])
		})
	}
}

func TestRunRaisesHostResourceAlert(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	writeExecutionReport(t, dir, now.Add(-1*time.Hour))

	m, mock := newTestMonitor(t, dir)
	m.readHost = func(ctx context.Context) hostUsage {
		return hostUsage{CPUPercent: 97, MemPercent: 20, DiskPercent: 30}
	}

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"c", "t", "w"}).AddRow(now, now, now))
	mock.ExpectQuery("SELECT DATE").WillReturnRows(sqlmock.NewRows([]string{"date", "count"}))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	report, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "degraded", report.PipelineHealth)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, "host_resources", report.Alerts[0].Check)
	assert.Equal(t, "warning", report.Alerts[0].Severity)
}

func TestMeanStddev(t *testing.T) {
	mean, std := meanStddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.138, std, 0.001)

	mean, std = meanStddev([]float64{42})
	assert.Equal(t, 42.0, mean)
	assert.Zero(t, std)
}

func TestRunAggregatesAlertsIntoHealth(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	writeExecutionReport(t, dir, now.Add(-1*time.Hour))

	m, mock := newTestMonitor(t, dir)

	// freshness: all three latest-record markers are current
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"c", "t", "w"}).AddRow(now, now, now))
	// volume: too few samples, no anomaly
	mock.ExpectQuery("SELECT DATE").WillReturnRows(sqlmock.NewRows([]string{"date", "count"}))
	// quality: clean
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	// db health: SELECT 1 and connection count
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	report, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "healthy", report.PipelineHealth)
	assert.Empty(t, report.Alerts)
	assert.Equal(t, 100, report.OverallHealthScore)
	assert.Len(t, report.Checks, 6)
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestMonitor(t, dir)

	report := &Report{
		MonitoringTimestamp: time.Now().UTC().Format(time.RFC3339),
		PipelineHealth:      "healthy",
		Checks:              map[string]interface{}{},
		Alerts:              []Alert{},
		OverallHealthScore:  100,
	}
	require.NoError(t, m.WriteReport(report))

	var loaded Report
	require.NoError(t, jsonio.ReadFile(filepath.Join(dir, ReportFileName), &loaded))
	assert.Equal(t, "healthy", loaded.PipelineHealth)
	assert.Equal(t, 100, loaded.OverallHealthScore)
}
