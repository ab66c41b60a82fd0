// Package scheduler runs crawl cycles on a fixed cadence, compensating for
// how long each cycle took.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stacmap/stac-crawler/internal/crawl"
	"github.com/stacmap/stac-crawler/internal/store"
)

// CycleRunner is the engine capability the scheduler drives.
type CycleRunner interface {
	RunCycle(ctx context.Context) (crawl.CycleReport, error)
}

// Clock abstracts wall-clock reads for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Config controls scheduling cadence.
type Config struct {
	// Interval is the target spacing between cycle starts.
	Interval time.Duration
	// ErrorRetry is the delay before retrying after a failed cycle.
	ErrorRetry time.Duration
	// Once runs a single cycle and exits.
	Once bool
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 72 * time.Hour
	}
	if c.ErrorRetry <= 0 {
		c.ErrorRetry = 2 * time.Hour
	}
}

// Scheduler owns the long-running crawl loop.
type Scheduler struct {
	runner CycleRunner
	clock  Clock
	cfg    Config
	logger *zap.Logger
}

// New creates a Scheduler.
func New(runner CycleRunner, clock Clock, cfg Config, logger *zap.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{runner: runner, clock: clock, cfg: cfg, logger: logger}
}

// Run executes crawl cycles until ctx is canceled. A cycle that fails because
// the store is unreachable halts the loop with an error; any other cycle
// failure schedules a retry. The next regular run starts interval minus the
// previous cycle's elapsed time after it finished, so cycle duration does not
// push the cadence later and later.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		started := s.clock.Now()
		report, err := s.runner.RunCycle(ctx)
		elapsed := s.clock.Now().Sub(started)

		switch {
		case err != nil && errors.Is(err, store.ErrStoreUnavailable):
			// Without a reachable store every subsequent cycle is wasted
			// work, so stop instead of retrying.
			s.logger.Error("store unreachable, halting scheduler", zap.Error(err))
			return fmt.Errorf("crawl cycle: %w", err)
		case err != nil:
			if s.cfg.Once {
				return fmt.Errorf("crawl cycle: %w", err)
			}
			s.logger.Error("crawl cycle failed, scheduling retry",
				zap.Error(err),
				zap.Duration("retry_in", s.cfg.ErrorRetry))
			if werr := s.wait(ctx, s.cfg.ErrorRetry); werr != nil {
				return werr
			}
			continue
		}

		s.logger.Info("crawl cycle succeeded",
			zap.String("run_id", report.RunID),
			zap.Duration("elapsed", elapsed),
			zap.Int64("collections_saved", report.Stats.CollectionsSaved))

		if s.cfg.Once {
			return nil
		}

		delay := s.cfg.Interval - elapsed
		if delay < 0 {
			delay = 0
		}
		s.logger.Info("next crawl cycle scheduled", zap.Duration("in", delay))
		if werr := s.wait(ctx, delay); werr != nil {
			return werr
		}
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor cancellation between back-to-back cycles.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
