package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/civiclearn/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository реализует progression.Repository.
type ProgressRepository struct {
	q Querier
}

const progressColumns = `learner_id, lesson_id, module_id, order_index, status, unlocked_at, completed_at`

func (r *ProgressRepository) ListByModule(ctx context.Context, learnerID, moduleID string) ([]*progression.LessonProgress, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+progressColumns+` FROM lesson_progress
		WHERE learner_id = $1 AND module_id = $2
		ORDER BY order_index
	`, learnerID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson progress: %w", err)
	}
	return scanRows(rows, scanProgress)
}

func (r *ProgressRepository) ListByLearner(ctx context.Context, learnerID string) ([]*progression.LessonProgress, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+progressColumns+` FROM lesson_progress
		WHERE learner_id = $1
		ORDER BY module_id, order_index
	`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson progress: %w", err)
	}
	return scanRows(rows, scanProgress)
}

// Save записывает строки пакетом (upsert по learner_id, lesson_id).
func (r *ProgressRepository) Save(ctx context.Context, rows []*progression.LessonProgress) error {
	if len(rows) == 0 {
		return nil
	}
	const upsert = `
		INSERT INTO lesson_progress (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (learner_id, lesson_id) DO UPDATE SET
			module_id = EXCLUDED.module_id,
			order_index = EXCLUDED.order_index,
			status = EXCLUDED.status,
			unlocked_at = EXCLUDED.unlocked_at,
			completed_at = EXCLUDED.completed_at
	`
	for _, p := range rows {
		_, err := r.q.Exec(ctx, upsert, p.LearnerID, p.LessonID, p.ModuleID, p.OrderIndex, string(p.Status), p.UnlockedAt, p.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to save lesson progress %s: %w", p.LessonID, err)
		}
	}
	return nil
}

func (r *ProgressRepository) InsertModuleCompletion(ctx context.Context, mc progression.ModuleCompletion) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO module_completions (learner_id, module_id, completed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (learner_id, module_id) DO NOTHING
	`, mc.LearnerID, mc.ModuleID, mc.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert module completion: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ProgressRepository) ListModuleCompletions(ctx context.Context, learnerID string) ([]progression.ModuleCompletion, error) {
	rows, err := r.q.Query(ctx, `
		SELECT learner_id, module_id, completed_at FROM module_completions
		WHERE learner_id = $1
		ORDER BY completed_at
	`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list module completions: %w", err)
	}
	return scanRows(rows, func(rows pgx.Rows) (progression.ModuleCompletion, error) {
		var mc progression.ModuleCompletion
		if err := rows.Scan(&mc.LearnerID, &mc.ModuleID, &mc.CompletedAt); err != nil {
			return mc, fmt.Errorf("failed to scan module completion: %w", err)
		}
		mc.CompletedAt = mc.CompletedAt.UTC()
		return mc, nil
	})
}

func (r *ProgressRepository) CountCompletedLessons(ctx context.Context, learnerID string) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM lesson_progress WHERE learner_id = $1 AND status = 'completed'
	`, learnerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed lessons: %w", err)
	}
	return n, nil
}

func scanProgress(rows pgx.Rows) (*progression.LessonProgress, error) {
	var (
		p      progression.LessonProgress
		status string
	)
	if err := rows.Scan(&p.LearnerID, &p.LessonID, &p.ModuleID, &p.OrderIndex, &status, &p.UnlockedAt, &p.CompletedAt); err != nil {
		return nil, fmt.Errorf("failed to scan lesson progress: %w", err)
	}
	p.Status = progression.LessonStatus(status)
	if p.UnlockedAt != nil {
		t := p.UnlockedAt.UTC()
		p.UnlockedAt = &t
	}
	if p.CompletedAt != nil {
		t := p.CompletedAt.UTC()
		p.CompletedAt = &t
	}
	return &p, nil
}

var _ progression.Repository = (*ProgressRepository)(nil)
