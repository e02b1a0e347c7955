package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler runs the reconciler once at start and then on a fixed period.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     *slog.Logger
}

// NewScheduler creates a scheduler with the default interval.
func NewScheduler(reconciler *Reconciler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		reconciler: reconciler,
		interval:   DefaultInterval,
		logger:     logger,
	}
}

// NewSchedulerWithInterval creates a scheduler with a custom interval.
func NewSchedulerWithInterval(reconciler *Reconciler, interval time.Duration, logger *slog.Logger) *Scheduler {
	s := NewScheduler(reconciler, logger)
	if interval > 0 {
		s.interval = interval
	}
	return s
}

// Run blocks until ctx is canceled. A sweep runs immediately at start
// (catching sessions orphaned by an unclean shutdown), then on each tick.
// An in-flight sweep is allowed to complete rather than be aborted;
// cancellation only stops scheduling the next one. Callers must track the
// goroutine with a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes a single sweep, logging instead of propagating errors.
func (s *Scheduler) runOnce(ctx context.Context) {
	res, err := s.reconciler.ReconcileOnce(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		s.logger.Debug("sweep skipped, previous still running")
	case err != nil:
		s.logger.Warn("sweep failed", "error", err)
	case res.Updated > 0:
		s.logger.Info("sweep completed stale sessions", "checked", res.Checked, "updated", res.Updated)
	}
}
