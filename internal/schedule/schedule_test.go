package schedule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCronSpecFor(t *testing.T) {
	tests := []struct {
		at       string
		expected string
	}{
		{"10:00", "0 10 * * *"},
		{"00:00", "0 0 * * *"},
		{"23:59", "59 23 * * *"},
		{"09:05", "5 9 * * *"},
	}

	for _, tt := range tests {
		spec, err := cronSpecFor(tt.at)
		require.NoError(t, err, "input %q", tt.at)
		assert.Equal(t, tt.expected, spec)
	}
}

func TestCronSpecForRejectsInvalidInput(t *testing.T) {
	for _, at := range []string{"", "10", "25:00", "10:75", "ab:cd", "10:00:00"} {
		_, err := cronSpecFor(at)
		assert.Error(t, err, "input %q", at)
	}
}

func TestNewSchedulerRejectsBadTime(t *testing.T) {
	_, err := NewScheduler("nope", func(ctx context.Context) {}, zap.NewNop())
	assert.Error(t, err)
}

func TestCleanerDeletesOnlyAgedFiles(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-10 * 24 * time.Hour)

	oldFile := filepath.Join(dir, "customers.csv")
	newFile := filepath.Join(dir, "products.csv")
	oldReport := filepath.Join(dir, "ingestion_summary.json")
	oldNested := filepath.Join(dir, "sub", "stale.log")

	require.NoError(t, os.MkdirAll(filepath.Dir(oldNested), 0o755))
	for _, path := range []string{oldFile, newFile, oldReport, oldNested} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	for _, path := range []string{oldFile, oldReport, oldNested} {
		require.NoError(t, os.Chtimes(path, old, old))
	}

	cleaner := NewCleaner([]string{dir}, 7, zap.NewNop())
	deleted, err := cleaner.Run()
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	assert.NoFileExists(t, oldFile)
	assert.NoFileExists(t, oldNested)
	assert.FileExists(t, newFile)
	assert.FileExists(t, oldReport, "reports survive cleanup regardless of age")
}

func TestCleanerSkipsMissingDirectories(t *testing.T) {
	cleaner := NewCleaner([]string{filepath.Join(t.TempDir(), "missing")}, 7, zap.NewNop())
	deleted, err := cleaner.Run()
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCleanerRetainsEverythingInsideWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fresh.csv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	cleaner := NewCleaner([]string{dir}, 7, zap.NewNop())
	deleted, err := cleaner.Run()
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.FileExists(t, path)
}
