package command

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/civiclearn/internal/application/saga"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// CompleteChallengeCommand is the ChallengeComplete event.
type CompleteChallengeCommand struct {
	LearnerID   string
	ChallengeID string
}

func (c CompleteChallengeCommand) Validate() error {
	if err := shared.ValidateID("challenge", "Complete", "learner_id", c.LearnerID); err != nil {
		return err
	}
	return shared.ValidateID("challenge", "Complete", "challenge_id", c.ChallengeID)
}

type CompleteChallengeResult struct {
	ChallengeID   string              `json:"challenge_id"`
	CompletedAt   time.Time           `json:"completed_at"`
	XPAwarded     shared.XP           `json:"xp_awarded"`
	BadgesAwarded []saga.AwardedBadge `json:"badges_awarded"`
	Duplicate     bool                `json:"duplicate"`
}

// CompleteChallengeHandler records completions and grants challenge rewards.
//
// Check order: an already completed participation is a duplicate (so replays
// stay idempotent after the window closes), then the window, then membership.
type CompleteChallengeHandler struct {
	deps Deps
	log  *logger.Logger
}

func NewCompleteChallengeHandler(deps Deps) *CompleteChallengeHandler {
	return &CompleteChallengeHandler{deps: deps, log: deps.Logger.With(logger.Component("complete_challenge"))}
}

func (h *CompleteChallengeHandler) Handle(ctx context.Context, cmd CompleteChallengeCommand) (result *CompleteChallengeResult, err error) {
	ctx, span := startSpan(ctx, "command.CompleteChallenge", cmd.LearnerID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("challenge.id", cmd.ChallengeID))

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	snap := h.deps.Content.Current()
	c, err := snap.Challenge(cmd.ChallengeID)
	if err != nil {
		return nil, err
	}

	now := h.deps.now()
	var out txn.Outbox

	err = h.deps.UoW.WithinLearner(ctx, cmd.LearnerID, func(ctx context.Context, r txn.Repos) error {
		out.Reset()
		result = &CompleteChallengeResult{ChallengeID: c.ID}

		p, err := r.Challenges.GetParticipation(ctx, cmd.LearnerID, c.ID)
		if err != nil && !shared.IsNotFound(err) {
			return fmt.Errorf("failed to load participation: %w", err)
		}
		if p != nil && p.Completed() {
			return h.priorResult(ctx, r, cmd.LearnerID, p.CompletedAt, result)
		}
		if err := c.CanComplete(now); err != nil {
			return err
		}
		if p == nil {
			return shared.ErrNotParticipant
		}

		if err := p.Complete(c, now); err != nil {
			return err
		}
		if err := r.Challenges.SaveParticipation(ctx, p); err != nil {
			return fmt.Errorf("failed to save participation: %w", err)
		}
		result.CompletedAt = now

		award, err := h.deps.Awarder.AwardIfPositive(ctx, r, &out,
			ledger.Key{LearnerID: cmd.LearnerID, SourceType: ledger.SourceChallenge, SourceID: c.ID}, c.XPReward, now)
		if err != nil {
			return err
		}
		result.XPAwarded = award.Awarded()

		if _, err := h.deps.touchLearner(ctx, r, cmd.LearnerID, now); err != nil {
			return err
		}

		if c.BadgeReward != nil {
			ab, ok, err := h.deps.Badges.GrantBadge(ctx, r, &out, snap, cmd.LearnerID, *c.BadgeReward, badge.SourceChallengePref+c.ID, now)
			if err != nil {
				return err
			}
			if ok {
				result.BadgesAwarded = append(result.BadgesAwarded, ab)
			}
		}
		badges, err := h.deps.Badges.Reevaluate(ctx, r, &out, snap, cmd.LearnerID, now)
		if err != nil {
			return err
		}
		result.BadgesAwarded = append(result.BadgesAwarded, badges...)

		out.Record(shared.NewChallengeCompletedEvent(cmd.LearnerID, c.ID, result.XPAwarded.Int64(), now))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		h.deps.afterCommit(ctx, &out, cmd.LearnerID, h.log)
		h.log.Info("challenge completed",
			logger.LearnerID(cmd.LearnerID),
			logger.String("challenge_id", c.ID),
			logger.Int64("xp_awarded", result.XPAwarded.Int64()),
		)
	}
	return result, nil
}

func (h *CompleteChallengeHandler) priorResult(ctx context.Context, r txn.Repos, learnerID string, completedAt *time.Time, result *CompleteChallengeResult) error {
	result.Duplicate = true
	if completedAt != nil {
		result.CompletedAt = *completedAt
	}
	tx, err := r.Ledger.FindByKey(ctx, ledger.Key{LearnerID: learnerID, SourceType: ledger.SourceChallenge, SourceID: result.ChallengeID})
	switch {
	case err == nil:
		result.XPAwarded = tx.Amount
	case !shared.IsNotFound(err):
		return fmt.Errorf("failed to load challenge transaction: %w", err)
	}
	return nil
}
