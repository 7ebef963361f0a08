package schedule

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Cleaner deletes files older than the retention window from the data
// directories. Reports and summaries are always retained.
type Cleaner struct {
	dirs          []string
	retentionDays int
	now           func() time.Time
	log           *zap.Logger
}

// NewCleaner creates a cleaner over the given directories.
func NewCleaner(dirs []string, retentionDays int, log *zap.Logger) *Cleaner {
	return &Cleaner{dirs: dirs, retentionDays: retentionDays, now: time.Now, log: log}
}

// Run walks every directory and removes files whose modification time is
// past the retention cutoff. Missing directories are skipped; the first
// walk or remove error aborts. Returns the number of files deleted.
func (c *Cleaner) Run() (int, error) {
	cutoff := c.now().Add(-time.Duration(c.retentionDays) * 24 * time.Hour)
	deleted := 0

	for _, dir := range c.dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}

		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || keepFile(d.Name()) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.ModTime().After(cutoff) {
				return nil
			}

			if err := os.Remove(path); err != nil {
				return err
			}
			deleted++
			c.log.Info("deleted old file", zap.String("path", path))
			return nil
		})
		if err != nil {
			return deleted, err
		}
	}

	c.log.Info("cleanup completed",
		zap.Int("deleted", deleted),
		zap.Int("retention_days", c.retentionDays))
	return deleted, nil
}

// keepFile marks files that survive cleanup regardless of age.
func keepFile(name string) bool {
	return strings.Contains(name, "report") || strings.Contains(name, "summary")
}
