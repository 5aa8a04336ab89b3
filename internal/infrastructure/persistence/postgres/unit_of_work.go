package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/civiclearn/internal/application/txn"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWork реализует txn.UnitOfWork поверх одной транзакции pgx.
//
// Сериализация по ученику - pg_advisory_xact_lock по хэшу learner_id: второе
// событие того же ученика ждёт коммита первого. Разные ученики не блокируют
// друг друга; общий ресурс между ними только строка challenge_seats.
type UnitOfWork struct {
	conn *Connection
}

// NewUnitOfWork создаёт единицу работы.
func NewUnitOfWork(conn *Connection) *UnitOfWork {
	return &UnitOfWork{conn: conn}
}

// WithinLearner выполняет fn в транзакции под блокировкой ученика.
func (u *UnitOfWork) WithinLearner(ctx context.Context, learnerID string, fn txn.Func) error {
	return u.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "learner:"+learnerID); err != nil {
			return fmt.Errorf("failed to lock learner: %w", err)
		}
		return fn(ctx, reposFor(tx))
	})
}

// Read выполняет fn в read-only транзакции на одном снимке.
func (u *UnitOfWork) Read(ctx context.Context, fn txn.Func) error {
	return u.conn.WithTx(ctx, ReadOnlyTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, reposFor(tx))
	})
}

func reposFor(q Querier) txn.Repos {
	return txn.Repos{
		Learners:   &LearnerRepository{q: q},
		Ledger:     &LedgerRepository{q: q},
		Progress:   &ProgressRepository{q: q},
		Attempts:   &AttemptRepository{q: q},
		Badges:     &BadgeRepository{q: q},
		Challenges: &ChallengeRepository{q: q},
	}
}
