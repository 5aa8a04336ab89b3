package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/civiclearn/internal/domain/learner"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LearnerRepository реализует learner.Repository.
type LearnerRepository struct {
	q Querier
}

const learnerColumns = `id, streak_count, last_active_on, community_posts, created_at, updated_at`

// GetOrCreate вставляет ученика, если его ещё нет, и возвращает строку.
func (r *LearnerRepository) GetOrCreate(ctx context.Context, id string, now time.Time) (*learner.Learner, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO learners (id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert learner: %w", err)
	}
	return r.Get(ctx, id)
}

// Get возвращает ученика.
func (r *LearnerRepository) Get(ctx context.Context, id string) (*learner.Learner, error) {
	row := r.q.QueryRow(ctx, `SELECT `+learnerColumns+` FROM learners WHERE id = $1`, id)

	var (
		l          learner.Learner
		lastActive *time.Time
	)
	err := row.Scan(&l.ID, &l.StreakCount, &lastActive, &l.CommunityPosts, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("learner", "Get", shared.ErrNotFound, "learner not found")
		}
		return nil, fmt.Errorf("failed to scan learner: %w", err)
	}
	if lastActive != nil {
		l.LastActiveOn = lastActive.UTC()
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

// Save обновляет изменяемые поля ученика.
func (r *LearnerRepository) Save(ctx context.Context, l *learner.Learner) error {
	var lastActive *time.Time
	if !l.LastActiveOn.IsZero() {
		t := l.LastActiveOn
		lastActive = &t
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE learners SET
			streak_count = $2,
			last_active_on = $3,
			community_posts = $4,
			updated_at = $5
		WHERE id = $1
	`, l.ID, l.StreakCount, lastActive, l.CommunityPosts, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update learner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("learner", "Save", shared.ErrNotFound, "learner not found")
	}
	return nil
}

// RecordCommunityActivity вставляет активность; повтор по external_id - false.
func (r *LearnerRepository) RecordCommunityActivity(ctx context.Context, learnerID string, kind learner.ActivityKind, externalID string, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO community_activity (learner_id, external_id, kind, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (learner_id, external_id) DO NOTHING
	`, learnerID, externalID, string(kind), at)
	if err != nil {
		return false, fmt.Errorf("failed to insert community activity: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ learner.Repository = (*LearnerRepository)(nil)

// scanRows - общий цикл чтения строк.
func scanRows[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
