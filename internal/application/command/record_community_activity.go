package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/civiclearn/internal/application/saga"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/learner"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMMUNITY ACTIVITY COMMAND
// The community layer (posts, replies) lives outside the engine. It reports
// each contribution once, by its own id, and the engine keeps the counter that
// feeds the community_posts stat.
// ══════════════════════════════════════════════════════════════════════════════

type RecordCommunityActivityCommand struct {
	LearnerID  string
	Kind       learner.ActivityKind
	ExternalID string
}

func (c RecordCommunityActivityCommand) Validate() error {
	if err := shared.ValidateID("community", "Record", "learner_id", c.LearnerID); err != nil {
		return err
	}
	if !c.Kind.IsValid() {
		return shared.Errorf("community", "Record", shared.ErrValidation, "unknown activity kind %q", c.Kind)
	}
	return shared.ValidateID("community", "Record", "external_id", c.ExternalID)
}

type RecordCommunityActivityResult struct {
	CommunityPosts int64               `json:"community_posts"`
	BadgesAwarded  []saga.AwardedBadge `json:"badges_awarded"`
	Duplicate      bool                `json:"duplicate"`
}

type RecordCommunityActivityHandler struct {
	deps Deps
	log  *logger.Logger
}

func NewRecordCommunityActivityHandler(deps Deps) *RecordCommunityActivityHandler {
	return &RecordCommunityActivityHandler{deps: deps, log: deps.Logger.With(logger.Component("community_activity"))}
}

func (h *RecordCommunityActivityHandler) Handle(ctx context.Context, cmd RecordCommunityActivityCommand) (result *RecordCommunityActivityResult, err error) {
	ctx, span := startSpan(ctx, "command.RecordCommunityActivity", cmd.LearnerID)
	defer func() { endSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	snap := h.deps.Content.Current()
	now := h.deps.now()
	var out txn.Outbox

	err = h.deps.UoW.WithinLearner(ctx, cmd.LearnerID, func(ctx context.Context, r txn.Repos) error {
		out.Reset()
		l, err := r.Learners.GetOrCreate(ctx, cmd.LearnerID, now)
		if err != nil {
			return fmt.Errorf("failed to load learner: %w", err)
		}
		inserted, err := r.Learners.RecordCommunityActivity(ctx, cmd.LearnerID, cmd.Kind, cmd.ExternalID, now)
		if err != nil {
			return fmt.Errorf("failed to record community activity: %w", err)
		}
		if !inserted {
			result = &RecordCommunityActivityResult{CommunityPosts: l.CommunityPosts, Duplicate: true}
			return nil
		}

		l.AddCommunityPost(now)
		if h.deps.Streaks {
			l.TouchStreak(now)
		}
		if err := r.Learners.Save(ctx, l); err != nil {
			return fmt.Errorf("failed to save learner: %w", err)
		}
		out.Record(shared.NewCommunityActivityEvent(cmd.LearnerID, string(cmd.Kind), cmd.ExternalID, l.CommunityPosts, now))

		badges, err := h.deps.Badges.Reevaluate(ctx, r, &out, snap, cmd.LearnerID, now)
		if err != nil {
			return err
		}
		result = &RecordCommunityActivityResult{CommunityPosts: l.CommunityPosts, BadgesAwarded: badges}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Duplicate {
		h.deps.afterCommit(ctx, &out, cmd.LearnerID, h.log)
	}
	return result, nil
}
