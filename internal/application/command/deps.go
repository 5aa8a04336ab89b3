// Package command contains write operations (CQRS - Commands).
//
// Every command runs in one learner unit of work: state change, ledger award
// and badge re-evaluation commit together or not at all. Domain events are
// published only after the commit.
package command

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/civiclearn/internal/application/reward"
	"github.com/alem-hub/civiclearn/internal/application/saga"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/learner"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

var tracer = otel.Tracer("github.com/alem-hub/civiclearn/internal/application/command")

// ContentSource provides the active content snapshot.
type ContentSource interface {
	Current() *catalog.Snapshot
}

// ProgressInvalidator drops a learner's cached progress view.
type ProgressInvalidator interface {
	Invalidate(ctx context.Context, learnerID string) error
}

// Deps bundles the collaborators shared by every command handler.
type Deps struct {
	UoW       txn.UnitOfWork
	Content   ContentSource
	Awarder   *reward.Awarder
	Badges    *saga.BadgeReevaluation
	Clock     timeutil.Clock
	IDs       reward.IDGenerator
	Publisher shared.EventPublisher
	Logger    *logger.Logger

	// Progress is invalidated synchronously after every commit, before the
	// handler returns. Nil when no progress cache is configured.
	Progress ProgressInvalidator

	// Streaks enables streak tracking on every applied event.
	Streaks bool
}

func (d Deps) now() time.Time {
	return timeutil.Truncate(d.Clock.Now())
}

// touchLearner loads (or creates) the learner and advances the streak.
func (d Deps) touchLearner(ctx context.Context, r txn.Repos, learnerID string, now time.Time) (*learner.Learner, error) {
	l, err := r.Learners.GetOrCreate(ctx, learnerID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load learner: %w", err)
	}
	if d.Streaks && l.TouchStreak(now) {
		if err := r.Learners.Save(ctx, l); err != nil {
			return nil, fmt.Errorf("failed to save learner: %w", err)
		}
	}
	return l, nil
}

// afterCommit runs once a unit of work has committed: the learner's cached
// progress is dropped first, then the recorded events are published. A read
// issued after the command returns never sees the pre-commit view.
func (d Deps) afterCommit(ctx context.Context, out *txn.Outbox, learnerID string, log *logger.Logger) {
	if d.Progress != nil {
		if err := d.Progress.Invalidate(ctx, learnerID); err != nil {
			log.Warn("failed to invalidate progress cache",
				logger.LearnerID(learnerID),
				logger.Err(err),
			)
		}
	}
	if out != nil {
		out.Flush(d.Publisher, log)
	}
}

func startSpan(ctx context.Context, name, learnerID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if learnerID != "" {
		span.SetAttributes(attribute.String("learner.id", learnerID))
	}
	return ctx, span
}

// endSpan records err on the span. Duplicates are not failures.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
