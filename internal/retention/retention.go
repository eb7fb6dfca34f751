// Package retention runs the scheduled sweep described in spec §8: on
// a cron schedule, purge terminal tasks (and their Event Log streams)
// that completed more than a configured number of days ago.
//
// Grounded on robfig/cron/v3's own Cron scheduler (the library the
// teacher's internal/schedules package uses to parse and validate cron
// expressions, generalized here from a Temporal-schedule wrapper into
// a direct in-process AddFunc job) and on the teacher's structured zap
// logging conventions for background loops.
package retention

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/metrics"
	"github.com/opendeepresearch/taskstream/internal/taskmanager"
)

// Sweeper runs taskmanager.Manager.Cleanup on a cron schedule.
type Sweeper struct {
	tasks         *taskmanager.Manager
	olderThanDays int
	logger        *zap.Logger
	cron          *cron.Cron
}

// New constructs a Sweeper. schedule is a standard 5-field cron
// expression (spec §8's "runs periodically"); olderThanDays is the
// retention window.
func New(tasks *taskmanager.Manager, schedule string, olderThanDays int, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New()
	s := &Sweeper{tasks: tasks, olderThanDays: olderThanDays, logger: logger, cron: c}
	if _, err := c.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the background cron loop. Non-blocking.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("retention: sweeper started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop halts the scheduler and waits for any in-flight run to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("retention: sweeper stopped")
}

// RunOnce runs the sweep immediately, outside the cron schedule —
// used by the cleanup CLI subcommand. (POST /worker/cleanup calls
// taskmanager.Manager.Cleanup directly with its own days value.)
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	deleted, err := s.tasks.Cleanup(ctx, s.olderThanDays)
	if err != nil {
		metrics.RetentionSweepErrors.Inc()
		return 0, err
	}
	metrics.RetentionSweepDeleted.Add(float64(deleted))
	return deleted, nil
}

func (s *Sweeper) runOnce() {
	deleted, err := s.RunOnce(context.Background())
	if err != nil {
		s.logger.Error("retention: sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("retention: sweep completed", zap.Int("deleted", deleted))
	}
}
