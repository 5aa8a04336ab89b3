// Package catalog holds the versioned learning content the engine interprets:
// modules and lessons, quizzes with their reward tiers, badge rules and
// challenges. Content is data published at runtime, so changing a rule never
// requires a redeploy.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/challenge"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// Bundle is one complete content document.
type Bundle struct {
	Modules    []progression.Module  `json:"modules" yaml:"modules"`
	Quizzes    []quiz.Quiz           `json:"quizzes" yaml:"quizzes"`
	Badges     []badge.Badge         `json:"badges" yaml:"badges"`
	Challenges []challenge.Challenge `json:"challenges" yaml:"challenges"`
}

// Normalize sorts lessons and tier tables into their canonical order.
func (b *Bundle) Normalize() {
	for i := range b.Modules {
		b.Modules[i].Normalize()
	}
	for i := range b.Quizzes {
		b.Quizzes[i].Tiers.Normalize()
	}
}

// Validate checks every definition and the references between them.
// Every failure is a ConfigurationError.
func (b *Bundle) Validate() error {
	const op = "ValidateBundle"

	modules := make(map[string]bool, len(b.Modules))
	lessons := make(map[string]string)
	for i := range b.Modules {
		m := &b.Modules[i]
		if err := m.Validate(); err != nil {
			return err
		}
		if modules[m.ID] {
			return shared.Errorf("catalog", op, shared.ErrConfiguration, "duplicate module %q", m.ID)
		}
		modules[m.ID] = true
		for _, l := range m.Lessons {
			if other, ok := lessons[l.ID]; ok {
				return shared.Errorf("catalog", op, shared.ErrConfiguration, "lesson %q appears in modules %q and %q", l.ID, other, m.ID)
			}
			lessons[l.ID] = m.ID
		}
	}

	quizzes := make(map[string]bool, len(b.Quizzes))
	for i := range b.Quizzes {
		q := &b.Quizzes[i]
		if err := q.Validate(); err != nil {
			return err
		}
		if quizzes[q.ID] {
			return shared.Errorf("catalog", op, shared.ErrConfiguration, "duplicate quiz %q", q.ID)
		}
		quizzes[q.ID] = true
	}

	badges := make(map[string]*badge.Badge, len(b.Badges))
	for i := range b.Badges {
		bd := &b.Badges[i]
		if err := bd.Validate(); err != nil {
			return err
		}
		if _, ok := badges[bd.ID]; ok {
			return shared.Errorf("catalog", op, shared.ErrConfiguration, "duplicate badge %q", bd.ID)
		}
		badges[bd.ID] = bd
	}

	rewarded := make(map[string]bool)
	challenges := make(map[string]bool, len(b.Challenges))
	for i := range b.Challenges {
		c := &b.Challenges[i]
		if err := c.Validate(); err != nil {
			return err
		}
		if challenges[c.ID] {
			return shared.Errorf("catalog", op, shared.ErrConfiguration, "duplicate challenge %q", c.ID)
		}
		challenges[c.ID] = true
		if c.BadgeReward != nil {
			if _, ok := badges[*c.BadgeReward]; !ok {
				return shared.Errorf("catalog", op, shared.ErrConfiguration, "challenge %q rewards unknown badge %q", c.ID, *c.BadgeReward)
			}
			rewarded[*c.BadgeReward] = true
		}
	}

	for id, bd := range badges {
		if !bd.Evaluable() && !rewarded[id] {
			return shared.WrapError("catalog", op, shared.ErrConfiguration,
				"badge "+id+" has no conditions and is not a challenge reward", shared.ErrNoConditions)
		}
	}
	return nil
}

// Checksum returns a stable hash of the bundle's canonical JSON form.
func (b *Bundle) Checksum() (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Version is a stored, immutable content revision.
type Version struct {
	Version     int64
	Checksum    string
	PublishedAt time.Time
	Bundle      Bundle
}

// Repository stores content versions. The highest version is the active one.
type Repository interface {
	// Save assigns the next version number and stores v.
	Save(ctx context.Context, v *Version) error
	// Latest returns shared.ErrNotFound when nothing has been published.
	Latest(ctx context.Context) (*Version, error)
	// FindByChecksum returns shared.ErrNotFound when no version has that checksum.
	FindByChecksum(ctx context.Context, checksum string) (*Version, error)
}
