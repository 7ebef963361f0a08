// Package schedule runs the pipeline on a daily cron schedule and houses
// the retention cleanup that prunes aged files from the data directories.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vireodata/conveyor/pkg/conveyorerrors"
)

// Scheduler triggers a job once a day at a configured wall-clock time.
type Scheduler struct {
	cron *cron.Cron
	job  func(context.Context)
	log  *zap.Logger
}

// NewScheduler creates a scheduler that invokes job daily at "HH:MM".
func NewScheduler(at string, job func(context.Context), log *zap.Logger) (*Scheduler, error) {
	spec, err := cronSpecFor(at)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cron: cron.New(),
		job:  job,
		log:  log,
	}
	if _, err := s.cron.AddFunc(spec, func() {
		s.log.Info("scheduled pipeline started")
		s.job(context.Background())
	}); err != nil {
		return nil, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeConfig, "failed to register schedule")
	}
	return s, nil
}

// Run blocks until ctx is cancelled, firing the job on schedule.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.log.Info("scheduler is running")

	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info("scheduler stopped")
}

// cronSpecFor converts "HH:MM" into a daily cron expression.
func cronSpecFor(at string) (string, error) {
	parts := strings.SplitN(at, ":", 2)
	if len(parts) != 2 {
		return "", conveyorerrors.New(conveyorerrors.ErrorTypeConfig,
			fmt.Sprintf("invalid schedule time %q, expected HH:MM", at))
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", conveyorerrors.New(conveyorerrors.ErrorTypeConfig,
			fmt.Sprintf("invalid schedule hour in %q", at))
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", conveyorerrors.New(conveyorerrors.ErrorTypeConfig,
			fmt.Sprintf("invalid schedule minute in %q", at))
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
