package command

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/civiclearn/internal/application/saga"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// SubmitQuizAttemptCommand is the QuizSubmit event.
type SubmitQuizAttemptCommand struct {
	AttemptID string
}

func (c SubmitQuizAttemptCommand) Validate() error {
	return shared.ValidateID("quiz", "SubmitAttempt", "attempt_id", c.AttemptID)
}

// SubmitQuizAttemptResult is {score_percent, passed, xp_awarded} plus context.
type SubmitQuizAttemptResult struct {
	AttemptID     string              `json:"attempt_id"`
	QuizID        string              `json:"quiz_id"`
	ScorePercent  int                 `json:"score_percent"`
	Passed        bool                `json:"passed"`
	XPAwarded     shared.XP           `json:"xp_awarded"`
	SubmittedAt   time.Time           `json:"submitted_at"`
	AutoSubmitted bool                `json:"auto_submitted"`
	BadgesAwarded []saga.AwardedBadge `json:"badges_awarded"`
	Duplicate     bool                `json:"duplicate"`
}

// SubmitQuizAttemptHandler locks, scores and rewards attempts.
type SubmitQuizAttemptHandler struct {
	deps Deps
	log  *logger.Logger
}

func NewSubmitQuizAttemptHandler(deps Deps) *SubmitQuizAttemptHandler {
	return &SubmitQuizAttemptHandler{deps: deps, log: deps.Logger.With(logger.Component("submit_quiz_attempt"))}
}

func (h *SubmitQuizAttemptHandler) Handle(ctx context.Context, cmd SubmitQuizAttemptCommand) (result *SubmitQuizAttemptResult, err error) {
	ctx, span := startSpan(ctx, "command.SubmitQuizAttempt", "")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("attempt.id", cmd.AttemptID))

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	learnerID, err := h.ownerOf(ctx, cmd.AttemptID)
	if err != nil {
		return nil, err
	}

	snap := h.deps.Content.Current()
	now := h.deps.now()
	var out txn.Outbox

	err = h.deps.UoW.WithinLearner(ctx, learnerID, func(ctx context.Context, r txn.Repos) error {
		out.Reset()
		attempt, err := r.Attempts.Get(ctx, cmd.AttemptID)
		if err != nil {
			return err
		}
		if attempt.Locked {
			result = resultOf(attempt, nil, true)
			return nil
		}
		q, err := snap.Quiz(attempt.QuizID)
		if err != nil {
			return err
		}
		// An explicit submit after the deadline is scored as the auto-submit
		// that the lazy deadline check would have produced.
		auto := attempt.Expired(now)
		result, err = h.finalize(ctx, r, &out, snap, attempt, q, now, auto)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		h.deps.afterCommit(ctx, &out, learnerID, h.log)
		h.log.Info("quiz attempt submitted",
			logger.LearnerID(learnerID),
			logger.Attempt(cmd.AttemptID),
			logger.Int("score_percent", result.ScorePercent),
			logger.Bool("passed", result.Passed),
			logger.Int64("xp_awarded", result.XPAwarded.Int64()),
		)
	}
	return result, nil
}

// finalize locks and scores an open attempt, awards tier XP once per quiz and
// re-evaluates badges. Shared by explicit submits and deadline auto-submits.
func (h *SubmitQuizAttemptHandler) finalize(ctx context.Context, r txn.Repos, out *txn.Outbox, snap *catalog.Snapshot, attempt *quiz.Attempt, q *quiz.Quiz, now time.Time, auto bool) (*SubmitQuizAttemptResult, error) {
	tierXP := attempt.Lock(q, now, auto)

	award, err := h.deps.Awarder.AwardIfPositive(ctx, r, out,
		ledger.Key{LearnerID: attempt.LearnerID, SourceType: ledger.SourceQuiz, SourceID: q.ID}, tierXP, now)
	if err != nil {
		return nil, err
	}
	attempt.XPAwarded = award.Awarded()

	if err := r.Attempts.Save(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to save attempt: %w", err)
	}
	if _, err := h.deps.touchLearner(ctx, r, attempt.LearnerID, now); err != nil {
		return nil, err
	}

	res := attempt.Result()
	out.Record(shared.NewQuizSubmittedEvent(attempt.LearnerID, attempt.ID, attempt.QuizID,
		res.ScorePercent, res.Passed, res.XPAwarded.Int64(), auto, res.SubmittedAt))

	badges, err := h.deps.Badges.Reevaluate(ctx, r, out, snap, attempt.LearnerID, now)
	if err != nil {
		return nil, err
	}
	return resultOf(attempt, badges, false), nil
}

// ownerOf resolves the learner that owns an attempt, so the write can be
// serialized on that learner.
func (h *SubmitQuizAttemptHandler) ownerOf(ctx context.Context, attemptID string) (string, error) {
	var learnerID string
	err := h.deps.UoW.Read(ctx, func(ctx context.Context, r txn.Repos) error {
		a, err := r.Attempts.Get(ctx, attemptID)
		if err != nil {
			return err
		}
		learnerID = a.LearnerID
		return nil
	})
	return learnerID, err
}

func resultOf(a *quiz.Attempt, badges []saga.AwardedBadge, duplicate bool) *SubmitQuizAttemptResult {
	res := a.Result()
	return &SubmitQuizAttemptResult{
		AttemptID:     a.ID,
		QuizID:        a.QuizID,
		ScorePercent:  res.ScorePercent,
		Passed:        res.Passed,
		XPAwarded:     res.XPAwarded,
		SubmittedAt:   res.SubmittedAt,
		AutoSubmitted: a.AutoSubmitted,
		BadgesAwarded: badges,
		Duplicate:     duplicate,
	}
}
