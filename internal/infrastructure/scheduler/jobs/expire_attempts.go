// Package jobs contains implementations of scheduled jobs for the
// proctoring service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/proctorhub/proctoring-service/internal/application/command"
	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE ATTEMPTS JOB
// The authoritative timeout mechanism. Sweeps started, incomplete attempts
// whose allowed time has elapsed and times each one out through the status
// funnel, so expiry cascades and side effects run the same path as any
// other transition. The inline check on the summary read is only a
// fallback for deployments without this sweep.
// ══════════════════════════════════════════════════════════════════════════════

// ExpireAttemptsJob times out overdue attempts.
type ExpireAttemptsJob struct {
	attemptStore attempt.Store
	actions      *command.AttemptActions
	clock        timeutil.Clock
	logger       *slog.Logger

	config ExpireAttemptsConfig

	lastRunStats atomic.Value // *ExpireAttemptsStats
}

// ExpireAttemptsConfig contains configuration for the expire attempts job.
type ExpireAttemptsConfig struct {
	// BatchSize limits how many overdue attempts one sweep picks up.
	// Leftovers are caught by the next run.
	BatchSize int

	// Timeout is the maximum duration for the job.
	Timeout time.Duration
}

// DefaultExpireAttemptsConfig returns sensible defaults.
func DefaultExpireAttemptsConfig() ExpireAttemptsConfig {
	return ExpireAttemptsConfig{
		BatchSize: 200,
		Timeout:   2 * time.Minute,
	}
}

// ExpireAttemptsStats holds the result of the last sweep.
type ExpireAttemptsStats struct {
	RanAt    time.Time
	Found    int
	Expired  int
	Failed   int
	Duration time.Duration
}

// NewExpireAttemptsJob creates a new job.
func NewExpireAttemptsJob(
	attemptStore attempt.Store,
	actions *command.AttemptActions,
	clock timeutil.Clock,
	logger *slog.Logger,
	config ExpireAttemptsConfig,
) *ExpireAttemptsJob {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultExpireAttemptsConfig().BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultExpireAttemptsConfig().Timeout
	}
	return &ExpireAttemptsJob{
		attemptStore: attemptStore,
		actions:      actions,
		clock:        clock,
		logger:       logger,
		config:       config,
	}
}

// Name implements the Job interface.
func (j *ExpireAttemptsJob) Name() string {
	return "expire_attempts"
}

// Description implements the Job interface.
func (j *ExpireAttemptsJob) Description() string {
	return "Times out started attempts whose allowed time has elapsed"
}

// Run implements the Job interface.
func (j *ExpireAttemptsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	started := j.clock.Now()
	stats := &ExpireAttemptsStats{RanAt: started}
	defer func() {
		stats.Duration = j.clock.Now().Sub(started)
		j.lastRunStats.Store(stats)
	}()

	overdue, err := j.attemptStore.FindExpired(ctx, started, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("expire_attempts: find expired: %w", err)
	}
	stats.Found = len(overdue)
	if len(overdue) == 0 {
		return nil
	}

	for _, a := range overdue {
		if err := ctx.Err(); err != nil {
			return err
		}

		expiresAt, ok := a.ExpiresAt()
		if !ok {
			// FindExpired only returns started attempts; a row without an
			// expiry instant indicates a data problem worth surfacing.
			j.logger.Error("overdue attempt has no expiry instant",
				"attempt_id", a.ID, "status", a.Status.String())
			stats.Failed++
			continue
		}

		if err := j.actions.TimeOutAttempt(ctx, a.ID, expiresAt); err != nil {
			// Concurrent submits race the sweep; the funnel rejects the
			// now-illegal transition and the attempt is left alone.
			j.logger.Warn("failed to time out attempt",
				"attempt_id", a.ID,
				"expired_at", expiresAt,
				"error", err)
			stats.Failed++
			continue
		}
		stats.Expired++
	}

	j.logger.Info("attempt expiry sweep finished",
		"found", stats.Found,
		"expired", stats.Expired,
		"failed", stats.Failed)
	return nil
}

// LastRunStats returns the stats of the most recent run, or nil.
func (j *ExpireAttemptsJob) LastRunStats() *ExpireAttemptsStats {
	if v := j.lastRunStats.Load(); v != nil {
		return v.(*ExpireAttemptsStats)
	}
	return nil
}
