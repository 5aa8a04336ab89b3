// Package challenge содержит жизненный цикл челленджей: окно проведения,
// ограничение числа участников и завершение с наградой.
package challenge

import (
	"context"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// Phase - фаза челленджа, вычисляется лениво по текущему времени.
type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseActive    Phase = "active"
	PhaseClosed    Phase = "closed"
)

// Challenge - ограниченное по времени (и, возможно, по числу мест) задание.
type Challenge struct {
	ID              string    `json:"id" yaml:"id"`
	Title           string    `json:"title,omitempty" yaml:"title,omitempty"`
	StartAt         time.Time `json:"start_at" yaml:"start_at"`
	EndAt           time.Time `json:"end_at" yaml:"end_at"`
	MaxParticipants int       `json:"max_participants" yaml:"max_participants"`
	XPReward        shared.XP `json:"xp_reward" yaml:"xp_reward"`
	BadgeReward     *string   `json:"badge_reward,omitempty" yaml:"badge_reward,omitempty"`
}

// Validate проверяет определение при публикации контента.
func (c *Challenge) Validate() error {
	const op = "ValidateChallenge"
	if err := shared.ValidateID("challenge", op, "challenge id", c.ID); err != nil {
		return shared.WrapError("challenge", op, shared.ErrConfiguration, "bad challenge id", err)
	}
	if !c.EndAt.After(c.StartAt) {
		return shared.Errorf("challenge", op, shared.ErrConfiguration, "challenge %q: end_at must be after start_at", c.ID)
	}
	if c.MaxParticipants < 0 {
		return shared.Errorf("challenge", op, shared.ErrConfiguration, "challenge %q: max_participants cannot be negative", c.ID)
	}
	if c.XPReward < 0 {
		return shared.Errorf("challenge", op, shared.ErrConfiguration, "challenge %q has negative xp_reward", c.ID)
	}
	return nil
}

// PhaseAt возвращает фазу в момент now.
//   - Scheduled: now < start_at
//   - Active:    start_at <= now < end_at
//   - Closed:    now >= end_at
func (c *Challenge) PhaseAt(now time.Time) Phase {
	switch {
	case now.Before(c.StartAt):
		return PhaseScheduled
	case now.Before(c.EndAt):
		return PhaseActive
	default:
		return PhaseClosed
	}
}

// CanJoin проверяет окно для вступления.
func (c *Challenge) CanJoin(now time.Time) error {
	switch c.PhaseAt(now) {
	case PhaseScheduled:
		return shared.ErrChallengeScheduled
	case PhaseClosed:
		return shared.ErrChallengeClosed
	}
	return nil
}

// CanComplete проверяет окно для завершения. Завершение ровно в end_at
// допустимо, позже - LateSubmission.
func (c *Challenge) CanComplete(now time.Time) error {
	if now.After(c.EndAt) {
		return shared.ErrChallengeLate
	}
	if now.Before(c.StartAt) {
		return shared.NewDomainError("challenge", "Complete", shared.ErrChallengeNotActive, "challenge has not started")
	}
	return nil
}

// Unlimited сообщает, что мест неограниченно.
func (c *Challenge) Unlimited() bool {
	return c.MaxParticipants == 0
}

// Participation - участие ученика в челлендже.
type Participation struct {
	LearnerID   string     `json:"learner_id"`
	ChallengeID string     `json:"challenge_id"`
	JoinedAt    time.Time  `json:"joined_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Completed сообщает, что участие уже завершено.
func (p *Participation) Completed() bool {
	return p.CompletedAt != nil
}

// Complete отмечает завершение. completed_at не может быть позже end_at.
func (p *Participation) Complete(c *Challenge, now time.Time) error {
	if err := c.CanComplete(now); err != nil {
		return err
	}
	ts := now
	p.CompletedAt = &ts
	return nil
}

// Repository - хранилище участий и счётчиков мест.
type Repository interface {
	// ReserveSeat атомарно увеличивает счётчик участников, если есть место
	// (max == 0 или count < max). Возвращает false, если мест нет.
	ReserveSeat(ctx context.Context, challengeID string, max int) (bool, error)

	// GetParticipation возвращает участие или shared.ErrNotFound.
	GetParticipation(ctx context.Context, learnerID, challengeID string) (*Participation, error)

	// InsertParticipation создаёт участие.
	InsertParticipation(ctx context.Context, p *Participation) error

	// SaveParticipation обновляет участие.
	SaveParticipation(ctx context.Context, p *Participation) error

	// ListByLearner возвращает участия ученика.
	ListByLearner(ctx context.Context, learnerID string) ([]*Participation, error)

	// CountCompleted возвращает число завершённых челленджей ученика.
	CountCompleted(ctx context.Context, learnerID string) (int64, error)

	// CountParticipants возвращает текущее число участников.
	CountParticipants(ctx context.Context, challengeID string) (int64, error)
}
