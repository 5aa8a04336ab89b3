// Package saga contains business processes that orchestrate several domain
// operations inside one learner unit of work.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/civiclearn/internal/application/reward"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE RE-EVALUATION SAGA
// Flow: Load Stats → Evaluate Unearned Badges → Insert Award →
//
//	Award XP Bonus → Reload Stats → repeat until nothing new unlocks
//
// Runs synchronously after every stat-affecting write, inside the same unit
// of work, so evaluation always sees the state that event just produced.
// ══════════════════════════════════════════════════════════════════════════════

// AwardedBadge describes one badge granted during the saga.
type AwardedBadge struct {
	BadgeID   string    `json:"badge_id"`
	Name      string    `json:"name"`
	XPAwarded shared.XP `json:"xp_awarded"`
	Source    string    `json:"source"`
	AwardedAt time.Time `json:"awarded_at"`
}

// BadgeReevaluation grants every badge whose conditions the learner now meets.
type BadgeReevaluation struct {
	awarder *reward.Awarder
}

func NewBadgeReevaluation(awarder *reward.Awarder) *BadgeReevaluation {
	return &BadgeReevaluation{awarder: awarder}
}

// Reevaluate checks every unearned badge of the snapshot against the
// learner's current stats.
//
// A badge XP bonus changes total_xp, which can satisfy another badge, so the
// saga loops to a fixpoint. Every round either grants at least one badge or
// stops, which bounds the loop by the number of badges.
func (s *BadgeReevaluation) Reevaluate(ctx context.Context, r txn.Repos, out *txn.Outbox, snap *catalog.Snapshot, learnerID string, now time.Time) ([]AwardedBadge, error) {
	existing, err := r.Badges.ListAwards(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list badge awards: %w", err)
	}
	earned := make(map[string]bool, len(existing))
	for _, a := range existing {
		earned[a.BadgeID] = true
	}

	var granted []AwardedBadge
	for round := 0; round <= len(snap.Badges()); round++ {
		stats, err := LoadStats(ctx, r, learnerID)
		if err != nil {
			return nil, err
		}

		progressed := false
		for _, b := range snap.Badges() {
			if earned[b.ID] || !b.Evaluate(stats) {
				continue
			}
			ab, ok, err := s.grant(ctx, r, out, b, learnerID, badge.SourceRule, now)
			if err != nil {
				return nil, err
			}
			earned[b.ID] = true
			if ok {
				granted = append(granted, ab)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return granted, nil
}

// GrantBadge awards a badge directly (challenge badge_reward) through the
// same award path as rule evaluation. It returns ok=false when the learner
// already holds the badge.
func (s *BadgeReevaluation) GrantBadge(ctx context.Context, r txn.Repos, out *txn.Outbox, snap *catalog.Snapshot, learnerID, badgeID, source string, now time.Time) (AwardedBadge, bool, error) {
	b, err := snap.Badge(badgeID)
	if err != nil {
		return AwardedBadge{}, false, err
	}
	return s.grant(ctx, r, out, b, learnerID, source, now)
}

func (s *BadgeReevaluation) grant(ctx context.Context, r txn.Repos, out *txn.Outbox, b *badge.Badge, learnerID, source string, now time.Time) (AwardedBadge, bool, error) {
	inserted, err := r.Badges.InsertAward(ctx, badge.Award{
		LearnerID: learnerID,
		BadgeID:   b.ID,
		AwardedAt: now,
		Source:    source,
	})
	if err != nil {
		return AwardedBadge{}, false, fmt.Errorf("failed to insert badge award: %w", err)
	}
	if !inserted {
		return AwardedBadge{}, false, nil
	}

	award, err := s.awarder.AwardIfPositive(ctx, r, out,
		ledger.Key{LearnerID: learnerID, SourceType: ledger.SourceBadge, SourceID: b.ID}, b.XPReward, now)
	if err != nil {
		return AwardedBadge{}, false, err
	}

	ab := AwardedBadge{
		BadgeID:   b.ID,
		Name:      b.Name,
		XPAwarded: award.Awarded(),
		Source:    source,
		AwardedAt: now,
	}
	out.Record(shared.NewBadgeAwardedEvent(learnerID, b.ID, source, ab.XPAwarded.Int64(), now))
	return ab, true, nil
}
