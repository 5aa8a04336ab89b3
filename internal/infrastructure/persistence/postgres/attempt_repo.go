package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUIZ ATTEMPT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AttemptRepository реализует quiz.Repository. Ответы хранятся в JSONB.
type AttemptRepository struct {
	q Querier
}

const attemptColumns = `id, learner_id, quiz_id, started_at, deadline, answers, submitted_at,
	score_percent, passed, xp_awarded, locked, auto_submitted`

func (r *AttemptRepository) Create(ctx context.Context, a *quiz.Attempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO quiz_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.LearnerID, a.QuizID, a.StartedAt, a.Deadline, answers, a.SubmittedAt,
		a.ScorePercent, a.Passed, a.XPAwarded.Int64(), a.Locked, a.AutoSubmitted)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.Errorf("quiz", "CreateAttempt", shared.ErrValidation, "attempt %q already exists", a.ID)
		}
		return fmt.Errorf("failed to insert quiz attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) Get(ctx context.Context, id string) (*quiz.Attempt, error) {
	rows, err := r.q.Query(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query quiz attempt: %w", err)
	}
	attempts, err := scanRows(rows, scanAttempt)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, shared.ErrAttemptNotFound
	}
	return attempts[0], nil
}

// Save перезаписывает изменяемые поля попытки.
func (r *AttemptRepository) Save(ctx context.Context, a *quiz.Attempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE quiz_attempts SET
			answers = $2,
			submitted_at = $3,
			score_percent = $4,
			passed = $5,
			xp_awarded = $6,
			locked = $7,
			auto_submitted = $8
		WHERE id = $1
	`, a.ID, answers, a.SubmittedAt, a.ScorePercent, a.Passed, a.XPAwarded.Int64(), a.Locked, a.AutoSubmitted)
	if err != nil {
		return fmt.Errorf("failed to update quiz attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAttemptNotFound
	}
	return nil
}

func (r *AttemptRepository) CountPassedQuizzes(ctx context.Context, learnerID string) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(DISTINCT quiz_id) FROM quiz_attempts
		WHERE learner_id = $1 AND locked AND passed
	`, learnerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count passed quizzes: %w", err)
	}
	return n, nil
}

// ListExpired находит брошенные попытки для фонового автосабмита.
func (r *AttemptRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]*quiz.Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+attemptColumns+` FROM quiz_attempts
		WHERE NOT locked AND deadline < $1
		ORDER BY deadline
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired attempts: %w", err)
	}
	return scanRows(rows, scanAttempt)
}

func scanAttempt(rows pgx.Rows) (*quiz.Attempt, error) {
	var (
		a       quiz.Attempt
		answers []byte
		xp      int64
	)
	err := rows.Scan(&a.ID, &a.LearnerID, &a.QuizID, &a.StartedAt, &a.Deadline, &answers, &a.SubmittedAt,
		&a.ScorePercent, &a.Passed, &xp, &a.Locked, &a.AutoSubmitted)
	if err != nil {
		return nil, fmt.Errorf("failed to scan quiz attempt: %w", err)
	}
	a.Answers = make(map[string]int)
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &a.Answers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
		}
	}
	a.XPAwarded = shared.XP(xp)
	a.StartedAt = a.StartedAt.UTC()
	a.Deadline = a.Deadline.UTC()
	if a.SubmittedAt != nil {
		t := a.SubmittedAt.UTC()
		a.SubmittedAt = &t
	}
	return &a, nil
}

var _ quiz.Repository = (*AttemptRepository)(nil)
