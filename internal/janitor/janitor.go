// Package janitor runs the scheduled maintenance jobs: retention cleanup
// of the event buffer and pruning of stale per-user order markers.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Default schedules, standard five-field cron specs.
const (
	BufferCleanupSpec = "30 3 * * *"
	UserMetaSweepSpec = "45 3 * * 0"
)

// BufferCleaner evicts expired processed events.
type BufferCleaner interface {
	Cleanup() (int, error)
}

// MetaSweeper prunes per-user markers not touched within maxAge, given as
// a Postgres interval string.
type MetaSweeper interface {
	CleanupStaleMeta(ctx context.Context, maxAge string) (int64, error)
}

// Janitor owns the cron runner and the registered maintenance jobs.
type Janitor struct {
	c      *cron.Cron
	logger *zap.Logger
}

// New creates a janitor without any jobs scheduled.
func New(logger *zap.Logger) *Janitor {
	return &Janitor{
		c:      cron.New(),
		logger: logger,
	}
}

// ScheduleBufferCleanup runs cleaner.Cleanup on the given cron spec.
func (j *Janitor) ScheduleBufferCleanup(spec string, cleaner BufferCleaner) error {
	_, err := j.c.AddFunc(spec, func() {
		removed, err := cleaner.Cleanup()
		if err != nil {
			j.logger.Error("scheduled buffer cleanup failed", zap.Error(err))
			return
		}
		j.logger.Info("scheduled buffer cleanup done", zap.Int("removed", removed))
	})
	if err != nil {
		return fmt.Errorf("schedule buffer cleanup: %w", err)
	}
	return nil
}

// ScheduleUserMetaSweep prunes stale last-seen markers on the given spec.
func (j *Janitor) ScheduleUserMetaSweep(spec, maxAge string, sweeper MetaSweeper) error {
	_, err := j.c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		removed, err := sweeper.CleanupStaleMeta(ctx, maxAge)
		if err != nil {
			j.logger.Error("scheduled user meta sweep failed", zap.Error(err))
			return
		}
		j.logger.Info("scheduled user meta sweep done", zap.Int64("removed", removed))
	})
	if err != nil {
		return fmt.Errorf("schedule user meta sweep: %w", err)
	}
	return nil
}

// Start launches the cron runner in its own goroutine.
func (j *Janitor) Start() {
	j.c.Start()
	j.logger.Info("janitor started", zap.Int("jobs", len(j.c.Entries())))
}

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("janitor stop timed out")
	}
}
