package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// SubmitQuizAnswerCommand is the QuizAnswerSubmit event.
type SubmitQuizAnswerCommand struct {
	AttemptID   string
	QuestionID  string
	AnswerIndex int
}

func (c SubmitQuizAnswerCommand) Validate() error {
	if err := shared.ValidateID("quiz", "SubmitAnswer", "attempt_id", c.AttemptID); err != nil {
		return err
	}
	return shared.ValidateID("quiz", "SubmitAnswer", "question_id", c.QuestionID)
}

// SubmitQuizAnswerHandler records answers on open attempts.
//
// The deadline is checked on every write. A write after the deadline locks
// and scores the attempt (the auto-submit is committed) and then reports
// AttemptLocked to the caller.
type SubmitQuizAnswerHandler struct {
	deps   Deps
	submit *SubmitQuizAttemptHandler
	log    *logger.Logger
}

func NewSubmitQuizAnswerHandler(deps Deps, submit *SubmitQuizAttemptHandler) *SubmitQuizAnswerHandler {
	return &SubmitQuizAnswerHandler{
		deps:   deps,
		submit: submit,
		log:    deps.Logger.With(logger.Component("submit_quiz_answer")),
	}
}

func (h *SubmitQuizAnswerHandler) Handle(ctx context.Context, cmd SubmitQuizAnswerCommand) (err error) {
	ctx, span := startSpan(ctx, "command.SubmitQuizAnswer", "")
	defer func() { endSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return err
	}

	learnerID, err := h.submit.ownerOf(ctx, cmd.AttemptID)
	if err != nil {
		return err
	}

	snap := h.deps.Content.Current()
	now := h.deps.now()
	var (
		out     txn.Outbox
		expired bool
	)

	err = h.deps.UoW.WithinLearner(ctx, learnerID, func(ctx context.Context, r txn.Repos) error {
		out.Reset()
		expired = false

		attempt, err := r.Attempts.Get(ctx, cmd.AttemptID)
		if err != nil {
			return err
		}
		q, err := snap.Quiz(attempt.QuizID)
		if err != nil {
			return err
		}

		err = attempt.SetAnswer(q, cmd.QuestionID, cmd.AnswerIndex, now)
		if errors.Is(err, shared.ErrAttemptExpired) {
			expired = true
			_, err := h.submit.finalize(ctx, r, &out, snap, attempt, q, now, true)
			return err
		}
		if err != nil {
			return err
		}
		if err := r.Attempts.Save(ctx, attempt); err != nil {
			return fmt.Errorf("failed to save attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if expired {
		h.deps.afterCommit(ctx, &out, learnerID, h.log)
		h.log.Info("attempt auto-submitted after deadline",
			logger.LearnerID(learnerID), logger.Attempt(cmd.AttemptID))
		return shared.ErrAttemptExpired
	}
	return nil
}
