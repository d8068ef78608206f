// Package housekeeping runs the coordinator's periodic sweeps: the
// agent-liveness sweep (spec §4.2, every 30s) and the read-cache TTL
// invalidation sweep implied by spec §5's 10s cache. Both are modeled as
// gocron singleton-mode jobs, the same way the teacher schedules backup
// policies — a fixed-interval job that never overlaps itself.
package housekeeping

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// LivenessSweeper is implemented by the agent registry.
type LivenessSweeper interface {
	SweepLiveness()
}

// CacheSweeper is implemented by the read cache.
type CacheSweeper interface {
	SweepExpired()
}

// Runner owns the gocron scheduler driving both sweeps.
type Runner struct {
	cron   gocron.Scheduler
	logger *zap.Logger
}

// New creates a Runner and schedules both sweeps. Call Start to begin.
func New(livenessInterval, cacheSweepInterval time.Duration, agents LivenessSweeper, cache CacheSweeper, logger *zap.Logger) (*Runner, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("housekeeping: creating scheduler: %w", err)
	}
	r := &Runner{cron: cron, logger: logger.Named("housekeeping")}

	if _, err := cron.NewJob(
		gocron.DurationJob(livenessInterval),
		gocron.NewTask(func() { agents.SweepLiveness() }),
		gocron.WithTags("liveness-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("housekeeping: scheduling liveness sweep: %w", err)
	}

	if _, err := cron.NewJob(
		gocron.DurationJob(cacheSweepInterval),
		gocron.NewTask(func() { cache.SweepExpired() }),
		gocron.WithTags("cache-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("housekeeping: scheduling cache sweep: %w", err)
	}

	return r, nil
}

// Start begins running the scheduled sweeps.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("housekeeping started")
}

// Stop waits for any in-flight sweep to finish and stops the scheduler.
func (r *Runner) Stop() error {
	if err := r.cron.Shutdown(); err != nil {
		return fmt.Errorf("housekeeping: shutdown: %w", err)
	}
	r.logger.Info("housekeeping stopped")
	return nil
}
