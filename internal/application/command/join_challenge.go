package command

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/challenge"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// JoinChallengeCommand is the ChallengeJoin event.
type JoinChallengeCommand struct {
	LearnerID   string
	ChallengeID string
}

func (c JoinChallengeCommand) Validate() error {
	if err := shared.ValidateID("challenge", "Join", "learner_id", c.LearnerID); err != nil {
		return err
	}
	return shared.ValidateID("challenge", "Join", "challenge_id", c.ChallengeID)
}

// JoinChallengeResult returns the participation.
type JoinChallengeResult struct {
	Participation *challenge.Participation `json:"participation"`
	Duplicate     bool                     `json:"duplicate"`
}

// JoinChallengeHandler admits learners into active challenges.
//
// The capacity check and the participant increment are one atomic step in the
// store (ReserveSeat), so concurrent joins from different learners can never
// overfill a challenge.
type JoinChallengeHandler struct {
	deps Deps
	log  *logger.Logger
}

func NewJoinChallengeHandler(deps Deps) *JoinChallengeHandler {
	return &JoinChallengeHandler{deps: deps, log: deps.Logger.With(logger.Component("join_challenge"))}
}

func (h *JoinChallengeHandler) Handle(ctx context.Context, cmd JoinChallengeCommand) (result *JoinChallengeResult, err error) {
	ctx, span := startSpan(ctx, "command.JoinChallenge", cmd.LearnerID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("challenge.id", cmd.ChallengeID))

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	c, err := h.deps.Content.Current().Challenge(cmd.ChallengeID)
	if err != nil {
		return nil, err
	}

	now := h.deps.now()
	var out txn.Outbox

	err = h.deps.UoW.WithinLearner(ctx, cmd.LearnerID, func(ctx context.Context, r txn.Repos) error {
		out.Reset()

		existing, err := r.Challenges.GetParticipation(ctx, cmd.LearnerID, c.ID)
		if err == nil {
			result = &JoinChallengeResult{Participation: existing, Duplicate: true}
			return nil
		}
		if !shared.IsNotFound(err) {
			return fmt.Errorf("failed to load participation: %w", err)
		}

		if err := c.CanJoin(now); err != nil {
			return err
		}
		ok, err := r.Challenges.ReserveSeat(ctx, c.ID, c.MaxParticipants)
		if err != nil {
			return fmt.Errorf("failed to reserve seat: %w", err)
		}
		if !ok {
			return shared.ErrChallengeFull
		}

		if _, err := h.deps.touchLearner(ctx, r, cmd.LearnerID, now); err != nil {
			return err
		}
		p := &challenge.Participation{LearnerID: cmd.LearnerID, ChallengeID: c.ID, JoinedAt: now}
		if err := r.Challenges.InsertParticipation(ctx, p); err != nil {
			return fmt.Errorf("failed to insert participation: %w", err)
		}
		out.Record(shared.NewChallengeJoinedEvent(cmd.LearnerID, c.ID, now))
		result = &JoinChallengeResult{Participation: p}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		h.deps.afterCommit(ctx, &out, cmd.LearnerID, h.log)
		h.log.Info("challenge joined", logger.LearnerID(cmd.LearnerID), logger.String("challenge_id", c.ID))
	}
	return result, nil
}
