// Package txn defines the unit of work every learner event runs in.
//
// An event performs a read-decide-write sequence (state, ledger, badge
// re-check). WithinLearner runs that sequence serialized per learner and
// commits it atomically: either every write inside fn is applied or none is.
package txn

import (
	"context"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/challenge"
	"github.com/alem-hub/civiclearn/internal/domain/learner"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/retry"
)

// Repos is the set of repositories bound to one unit of work.
type Repos struct {
	Learners   learner.Repository
	Ledger     ledger.Repository
	Progress   progression.Repository
	Attempts   quiz.Repository
	Badges     badge.Repository
	Challenges challenge.Repository
}

// Func is the body of a unit of work. It may be invoked more than once when
// the store retries a transient failure, so it must not leak side effects
// outside the repositories it is given.
type Func func(ctx context.Context, r Repos) error

// UnitOfWork runs event handlers atomically.
type UnitOfWork interface {
	// WithinLearner serializes fn against every other unit of work for the
	// same learner and commits its writes atomically.
	WithinLearner(ctx context.Context, learnerID string, fn Func) error

	// Read runs fn against committed state without taking the learner lock.
	Read(ctx context.Context, fn Func) error
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRY DECORATOR
// ══════════════════════════════════════════════════════════════════════════════

// Retrying retries units of work that fail with a retry.Retryable error and
// converts exhaustion into shared.ErrServiceUnavailable.
type Retrying struct {
	inner   UnitOfWork
	retrier *retry.Retrier
	log     *logger.Logger
}

// WithRetry decorates inner. Stores mark transient failures (serialization
// conflicts, deadlocks, dropped connections) with retry.Retryable.
func WithRetry(inner UnitOfWork, maxAttempts int, attemptTimeout time.Duration, log *logger.Logger) *Retrying {
	rl := log.With(logger.Component("unit_of_work"))
	r := retry.StorageRetrier(maxAttempts, attemptTimeout,
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			rl.Warn("retrying unit of work",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)
	return &Retrying{inner: inner, retrier: r, log: rl}
}

func (u *Retrying) WithinLearner(ctx context.Context, learnerID string, fn Func) error {
	err := u.retrier.Do(ctx, func(ctx context.Context) error {
		return u.inner.WithinLearner(ctx, learnerID, fn)
	})
	return u.translate("WithinLearner", err)
}

func (u *Retrying) Read(ctx context.Context, fn Func) error {
	err := u.retrier.Do(ctx, func(ctx context.Context) error {
		return u.inner.Read(ctx, fn)
	})
	return u.translate("Read", err)
}

func (u *Retrying) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if retry.IsExhausted(err) || retry.IsRetryable(err) {
		u.log.Error("storage unavailable", logger.Operation(op), logger.Err(err))
		return shared.WrapError("storage", op, shared.ErrServiceUnavailable, "storage is unavailable, retry later", err)
	}
	return err
}
