// Package jobs contains the engine's scheduled maintenance jobs.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE ATTEMPTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// AttemptSubmitter locks and scores an attempt. Past the deadline the submit
// is recorded as automatic.
type AttemptSubmitter interface {
	Handle(ctx context.Context, cmd command.SubmitQuizAttemptCommand) (*command.SubmitQuizAttemptResult, error)
}

// ExpireAttemptsJob auto-submits attempts that were abandoned after their
// deadline, so their score and tier XP land without waiting for the learner
// to touch the attempt again.
type ExpireAttemptsJob struct {
	uow    txn.UnitOfWork
	submit AttemptSubmitter
	clock  timeutil.Clock
	logger *logger.Logger

	batchSize int

	lastRunStats atomic.Pointer[ExpireAttemptsStats]
}

// ExpireAttemptsStats describes one sweep.
type ExpireAttemptsStats struct {
	Found     int
	Submitted int
	Failed    int
	Duration  time.Duration
}

// NewExpireAttemptsJob creates the job. batchSize bounds attempts per run.
func NewExpireAttemptsJob(uow txn.UnitOfWork, submit AttemptSubmitter, clock timeutil.Clock, batchSize int, log *logger.Logger) *ExpireAttemptsJob {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpireAttemptsJob{
		uow:       uow,
		submit:    submit,
		clock:     clock,
		batchSize: batchSize,
		logger:    log.With(logger.Component("expire_attempts")),
	}
}

func (j *ExpireAttemptsJob) Name() string { return "expire_quiz_attempts" }

func (j *ExpireAttemptsJob) Description() string {
	return "Auto-submits quiz attempts whose deadline has passed"
}

// Run sweeps one batch. A failure on one attempt does not stop the others.
func (j *ExpireAttemptsJob) Run(ctx context.Context) error {
	start := time.Now()
	stats := &ExpireAttemptsStats{}
	defer func() {
		stats.Duration = time.Since(start)
		j.lastRunStats.Store(stats)
	}()

	var expired []*quiz.Attempt
	err := j.uow.Read(ctx, func(ctx context.Context, r txn.Repos) error {
		list, err := r.Attempts.ListExpired(ctx, j.clock.Now(), j.batchSize)
		expired = list
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to list expired attempts: %w", err)
	}
	stats.Found = len(expired)

	for _, a := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := j.submit.Handle(ctx, command.SubmitQuizAttemptCommand{AttemptID: a.ID})
		switch {
		case err == nil && !res.Duplicate:
			stats.Submitted++
		case err == nil, shared.IsDuplicate(err), shared.IsNotFound(err):
			// Уже закрыта параллельным запросом.
		default:
			stats.Failed++
			j.logger.Warn("auto-submit failed",
				logger.LearnerID(a.LearnerID),
				logger.Attempt(a.ID),
				logger.Err(err),
			)
		}
	}

	if stats.Submitted > 0 {
		j.logger.Info("expired attempts auto-submitted",
			logger.Int("submitted", stats.Submitted),
			logger.Int("failed", stats.Failed),
		)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d expired attempts could not be submitted", stats.Failed, stats.Found)
	}
	return nil
}

// LastRunStats returns the stats of the most recent run, or nil.
func (j *ExpireAttemptsJob) LastRunStats() *ExpireAttemptsStats {
	return j.lastRunStats.Load()
}
