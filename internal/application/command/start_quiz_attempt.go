package command

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// StartQuizAttemptCommand is the QuizAttemptStart event.
type StartQuizAttemptCommand struct {
	LearnerID string
	QuizID    string
}

func (c StartQuizAttemptCommand) Validate() error {
	if err := shared.ValidateID("quiz", "StartAttempt", "learner_id", c.LearnerID); err != nil {
		return err
	}
	return shared.ValidateID("quiz", "StartAttempt", "quiz_id", c.QuizID)
}

// StartQuizAttemptResult carries the new attempt id and its deadline.
type StartQuizAttemptResult struct {
	AttemptID string    `json:"attempt_id"`
	QuizID    string    `json:"quiz_id"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// StartQuizAttemptHandler creates unlocked attempts.
type StartQuizAttemptHandler struct {
	deps Deps
	log  *logger.Logger
}

func NewStartQuizAttemptHandler(deps Deps) *StartQuizAttemptHandler {
	return &StartQuizAttemptHandler{deps: deps, log: deps.Logger.With(logger.Component("start_quiz_attempt"))}
}

func (h *StartQuizAttemptHandler) Handle(ctx context.Context, cmd StartQuizAttemptCommand) (result *StartQuizAttemptResult, err error) {
	ctx, span := startSpan(ctx, "command.StartQuizAttempt", cmd.LearnerID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("quiz.id", cmd.QuizID))

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	q, err := h.deps.Content.Current().Quiz(cmd.QuizID)
	if err != nil {
		return nil, err
	}

	now := h.deps.now()
	attemptID := h.deps.IDs.GenerateID()

	err = h.deps.UoW.WithinLearner(ctx, cmd.LearnerID, func(ctx context.Context, r txn.Repos) error {
		if _, err := h.deps.touchLearner(ctx, r, cmd.LearnerID, now); err != nil {
			return err
		}
		attempt := quiz.Start(attemptID, cmd.LearnerID, q, now)
		if err := r.Attempts.Create(ctx, attempt); err != nil {
			return fmt.Errorf("failed to create attempt: %w", err)
		}
		result = &StartQuizAttemptResult{
			AttemptID: attempt.ID,
			QuizID:    q.ID,
			StartedAt: attempt.StartedAt,
			Deadline:  attempt.Deadline,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.deps.afterCommit(ctx, nil, cmd.LearnerID, h.log)

	h.log.Info("quiz attempt started",
		logger.LearnerID(cmd.LearnerID),
		logger.Attempt(result.AttemptID),
		logger.Time("deadline", result.Deadline),
	)
	return result, nil
}
