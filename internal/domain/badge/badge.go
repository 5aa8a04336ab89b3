package badge

import (
	"context"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// Badge is an achievement with an optional XP bonus.
//
// A badge without conditions never unlocks through evaluation; it can only be
// granted directly, as a challenge reward.
type Badge struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions  []Condition `json:"conditions" yaml:"conditions"`
	XPReward    shared.XP   `json:"xp_reward" yaml:"xp_reward"`
}

// Validate checks the badge at authoring time.
func (b *Badge) Validate() error {
	if err := shared.ValidateID("badge", "Validate", "badge id", b.ID); err != nil {
		return shared.WrapError("badge", "Validate", shared.ErrConfiguration, "bad badge id", err)
	}
	if b.XPReward < 0 {
		return shared.Errorf("badge", "Validate", shared.ErrConfiguration, "badge %q has negative xp_reward", b.ID)
	}
	for _, c := range b.Conditions {
		if err := c.Validate(b.ID); err != nil {
			return err
		}
	}
	return nil
}

// Evaluable reports whether the badge can unlock through rule evaluation.
func (b *Badge) Evaluable() bool {
	return len(b.Conditions) > 0
}

// Evaluate applies AND semantics over all conditions.
func (b *Badge) Evaluate(stats Stats) bool {
	if !b.Evaluable() {
		return false
	}
	for _, c := range b.Conditions {
		if !c.Holds(stats) {
			return false
		}
	}
	return true
}

// Source values recorded on awards.
const (
	SourceRule          = "rule"
	SourceChallengePref = "challenge:"
)

// Award records that a learner earned a badge. At most one per pair, ever.
type Award struct {
	LearnerID string
	BadgeID   string
	AwardedAt time.Time
	Source    string
}

// Repository stores badge awards.
type Repository interface {
	// InsertAward returns false when the pair already exists.
	InsertAward(ctx context.Context, a Award) (bool, error)
	ListAwards(ctx context.Context, learnerID string) ([]Award, error)
}
