package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/challenge"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRepository реализует badge.Repository.
type BadgeRepository struct {
	q Querier
}

func (r *BadgeRepository) InsertAward(ctx context.Context, a badge.Award) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO badge_awards (learner_id, badge_id, awarded_at, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (learner_id, badge_id) DO NOTHING
	`, a.LearnerID, a.BadgeID, a.AwardedAt, a.Source)
	if err != nil {
		return false, fmt.Errorf("failed to insert badge award: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BadgeRepository) ListAwards(ctx context.Context, learnerID string) ([]badge.Award, error) {
	rows, err := r.q.Query(ctx, `
		SELECT learner_id, badge_id, awarded_at, source FROM badge_awards
		WHERE learner_id = $1
		ORDER BY awarded_at, badge_id
	`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list badge awards: %w", err)
	}
	return scanRows(rows, func(rows pgx.Rows) (badge.Award, error) {
		var a badge.Award
		if err := rows.Scan(&a.LearnerID, &a.BadgeID, &a.AwardedAt, &a.Source); err != nil {
			return a, fmt.Errorf("failed to scan badge award: %w", err)
		}
		a.AwardedAt = a.AwardedAt.UTC()
		return a, nil
	})
}

var _ badge.Repository = (*BadgeRepository)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeRepository реализует challenge.Repository.
type ChallengeRepository struct {
	q Querier
}

// ReserveSeat - проверка и инкремент одним оператором. Строка
// challenge_seats блокируется до конца транзакции, поэтому параллельные
// вступления разных учеников упорядочиваются на ней и не превышают лимит.
func (r *ChallengeRepository) ReserveSeat(ctx context.Context, challengeID string, max int) (bool, error) {
	rows, err := r.q.Query(ctx, `
		INSERT INTO challenge_seats AS s (challenge_id, participant_count)
		VALUES ($1, 1)
		ON CONFLICT (challenge_id) DO UPDATE
			SET participant_count = s.participant_count + 1
			WHERE $2 = 0 OR s.participant_count < $2
		RETURNING participant_count
	`, challengeID, max)
	if err != nil {
		return false, fmt.Errorf("failed to reserve seat: %w", err)
	}
	counts, err := scanRows(rows, func(rows pgx.Rows) (int64, error) {
		var n int64
		return n, rows.Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("failed to reserve seat: %w", err)
	}
	return len(counts) == 1, nil
}

const participationColumns = `learner_id, challenge_id, joined_at, completed_at`

func (r *ChallengeRepository) GetParticipation(ctx context.Context, learnerID, challengeID string) (*challenge.Participation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+participationColumns+` FROM challenge_participations
		WHERE learner_id = $1 AND challenge_id = $2
	`, learnerID, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participation: %w", err)
	}
	ps, err := scanRows(rows, scanParticipation)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, shared.NewDomainError("challenge", "GetParticipation", shared.ErrNotFound, "participation not found")
	}
	return ps[0], nil
}

func (r *ChallengeRepository) InsertParticipation(ctx context.Context, p *challenge.Participation) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO challenge_participations (`+participationColumns+`)
		VALUES ($1, $2, $3, $4)
	`, p.LearnerID, p.ChallengeID, p.JoinedAt, p.CompletedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("challenge", "Join", shared.ErrDuplicateEvent, "already joined")
		}
		return fmt.Errorf("failed to insert participation: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) SaveParticipation(ctx context.Context, p *challenge.Participation) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE challenge_participations SET completed_at = $3
		WHERE learner_id = $1 AND challenge_id = $2
	`, p.LearnerID, p.ChallengeID, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update participation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("challenge", "SaveParticipation", shared.ErrNotFound, "participation not found")
	}
	return nil
}

func (r *ChallengeRepository) ListByLearner(ctx context.Context, learnerID string) ([]*challenge.Participation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+participationColumns+` FROM challenge_participations
		WHERE learner_id = $1
		ORDER BY joined_at
	`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participations: %w", err)
	}
	return scanRows(rows, scanParticipation)
}

func (r *ChallengeRepository) CountCompleted(ctx context.Context, learnerID string) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM challenge_participations
		WHERE learner_id = $1 AND completed_at IS NOT NULL
	`, learnerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed challenges: %w", err)
	}
	return n, nil
}

func (r *ChallengeRepository) CountParticipants(ctx context.Context, challengeID string) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE((SELECT participant_count FROM challenge_seats WHERE challenge_id = $1), 0)
	`, challengeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return n, nil
}

func scanParticipation(rows pgx.Rows) (*challenge.Participation, error) {
	var p challenge.Participation
	if err := rows.Scan(&p.LearnerID, &p.ChallengeID, &p.JoinedAt, &p.CompletedAt); err != nil {
		return nil, fmt.Errorf("failed to scan participation: %w", err)
	}
	p.JoinedAt = p.JoinedAt.UTC()
	if p.CompletedAt != nil {
		t := p.CompletedAt.UTC()
		p.CompletedAt = &t
	}
	return &p, nil
}

var _ challenge.Repository = (*ChallengeRepository)(nil)
