package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository реализует ledger.Repository. Таблица только на добавление.
type LedgerRepository struct {
	q Querier
}

const txColumns = `id, learner_id, source_type, source_id, amount, created_at`

// Insert полагается на UNIQUE (learner_id, source_type, source_id): повтор
// ключа ничего не пишет и возвращает false.
func (r *LedgerRepository) Insert(ctx context.Context, tx *ledger.Transaction) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO xp_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (learner_id, source_type, source_id) DO NOTHING
	`, tx.ID, tx.LearnerID, string(tx.SourceType), tx.SourceID, tx.Amount.Int64(), tx.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert xp transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LedgerRepository) FindByKey(ctx context.Context, key ledger.Key) (*ledger.Transaction, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+txColumns+` FROM xp_transactions
		WHERE learner_id = $1 AND source_type = $2 AND source_id = $3
	`, key.LearnerID, string(key.SourceType), key.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query xp transaction: %w", err)
	}
	txs, err := scanRows(rows, scanTransaction)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, shared.NewDomainError("ledger", "FindByKey", shared.ErrNotFound, "transaction not found")
	}
	return txs[0], nil
}

func (r *LedgerRepository) Balance(ctx context.Context, learnerID string) (shared.XP, error) {
	var total int64
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM xp_transactions WHERE learner_id = $1`, learnerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum xp: %w", err)
	}
	return shared.XP(total), nil
}

func (r *LedgerRepository) ListByLearner(ctx context.Context, learnerID string) ([]*ledger.Transaction, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+txColumns+` FROM xp_transactions
		WHERE learner_id = $1
		ORDER BY created_at, id
	`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list xp transactions: %w", err)
	}
	return scanRows(rows, scanTransaction)
}

func scanTransaction(rows pgx.Rows) (*ledger.Transaction, error) {
	var (
		tx     ledger.Transaction
		source string
		amount int64
	)
	if err := rows.Scan(&tx.ID, &tx.LearnerID, &source, &tx.SourceID, &amount, &tx.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan xp transaction: %w", err)
	}
	tx.SourceType = ledger.SourceType(source)
	tx.Amount = shared.XP(amount)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

var _ ledger.Repository = (*LedgerRepository)(nil)
