package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/calcops/internal/model"
)

// Scheduler periodically refreshes every watch item.
type Scheduler struct {
	refresher *Refresher
	interval  time.Duration
	logger    *slog.Logger
}

// NewScheduler creates a scheduler. A non-positive interval disables it.
func NewScheduler(r *Refresher, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{refresher: r, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled, starting a snapshot refresh each
// interval. Ticks that arrive while a snapshot is running are skipped.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("snapshot scheduler disabled")
		return
	}

	s.logger.Info("snapshot scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("snapshot scheduler stopped")
			return
		case <-ticker.C:
			s.snapshot(ctx)
		}
	}
}

func (s *Scheduler) snapshot(ctx context.Context) {
	run := s.refresher.NewRun("", model.TriggerScheduled, model.ModeCollect, 0)
	finished, err := s.refresher.Refresh(ctx, run)
	if err != nil {
		s.logger.Error("snapshot refresh failed", "run_id", run.ID, "error", err)
		return
	}
	s.logger.Info("snapshot refresh done", "run_id", finished.ID, "summary", Summary(finished))
}
