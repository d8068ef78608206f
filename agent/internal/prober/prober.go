// Package prober schedules and runs the agent's per-target checks. Each
// target gets its own gocron singleton-mode job at its configured interval,
// the same scheduling shape the coordinator's housekeeping runner and the
// teacher's backup-policy scheduler use for a fixed-cadence task that must
// never overlap itself (spec §4.4). Results are submitted to the
// coordinator in small batches as each check completes.
package prober

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/stormmon/storm/shared/types"
)

// Submitter delivers completed check results to the coordinator.
type Submitter interface {
	SubmitResults(ctx context.Context, results []types.CheckResult) error
	AgentID() string
}

// Manager owns the gocron scheduler and the set of currently installed
// per-target jobs.
type Manager struct {
	cron      gocron.Scheduler
	submitter Submitter
	agentName string
	logger    *zap.Logger

	mu      sync.Mutex
	jobTags map[int]string // targetID -> tag, so a reschedule can remove stale jobs
}

// New creates a Manager. Call Start before Schedule takes effect.
func New(agentName string, submitter Submitter, logger *zap.Logger) (*Manager, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("prober: creating scheduler: %w", err)
	}
	return &Manager{
		cron:      cron,
		submitter: submitter,
		agentName: agentName,
		logger:    logger.Named("prober"),
		jobTags:   make(map[int]string),
	}, nil
}

// Start begins running scheduled checks.
func (m *Manager) Start() {
	m.cron.Start()
}

// Stop waits for any in-flight check to finish and stops the scheduler.
func (m *Manager) Stop() error {
	if err := m.cron.Shutdown(); err != nil {
		return fmt.Errorf("prober: shutdown: %w", err)
	}
	return nil
}

// Schedule stops every currently installed job and reinstalls one job per
// target in the given list, unconditionally — even for a target ID that
// was already scheduled. Stop-then-restart is intentional (spec §4.4): it
// is simpler than diffing for an interval/endpoint change on the same
// target ID, and it avoids split-brain between an old and a new interval
// both running for the same target. Every (re)installed job runs an
// immediate first check.
func (m *Manager) Schedule(targets []types.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, tag := range m.jobTags {
		if err := m.cron.RemoveByTags(tag); err != nil {
			m.logger.Warn("failed removing job before reschedule", zap.Int("targetId", id), zap.Error(err))
		}
		delete(m.jobTags, id)
	}

	for _, target := range targets {
		target := target
		tag := fmt.Sprintf("target-%d", target.ID)

		job, err := m.cron.NewJob(
			gocron.DurationJob(target.Interval()),
			gocron.NewTask(func() { m.check(target) }),
			gocron.WithTags(tag),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("prober: scheduling target %d: %w", target.ID, err)
		}
		m.jobTags[target.ID] = tag

		if err := job.RunNow(); err != nil {
			m.logger.Warn("failed triggering immediate first check", zap.Int("targetId", target.ID), zap.Error(err))
		}
	}

	return nil
}

// check runs one probe against target and submits the result. Submission
// failures (after the client's own retries are exhausted) are logged and
// dropped — the next tick produces a fresh observation.
func (m *Manager) check(target types.Target) {
	ctx, cancel := context.WithTimeout(context.Background(), target.Timeout()+5*time.Second)
	defer cancel()

	var result types.CheckResult
	switch target.Kind {
	case types.TargetKindICMP:
		result = probeICMP(ctx, target)
	default:
		result = probeHTTP(ctx, target, "Storm/"+m.agentName)
	}
	result.AgentID = m.submitter.AgentID()
	result.Timestamp = time.Now().UTC()

	if err := m.submitter.SubmitResults(ctx, []types.CheckResult{result}); err != nil {
		m.logger.Warn("dropping check result after submission failure",
			zap.Int("targetId", target.ID), zap.Error(err))
	}
}
