// Package ledger содержит доменную модель журнала XP: неизменяемые транзакции
// начисления опыта с ключом идемпотентности (learner, source_type, source_id).
package ledger

import (
	"context"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SOURCE TYPE
// ══════════════════════════════════════════════════════════════════════════════

// SourceType - тип события, за которое начислен XP.
type SourceType string

const (
	SourceLesson    SourceType = "lesson"
	SourceModule    SourceType = "module"
	SourceQuiz      SourceType = "quiz"
	SourceBadge     SourceType = "badge"
	SourceChallenge SourceType = "challenge"
)

// IsValid проверяет, что тип источника известен.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceLesson, SourceModule, SourceQuiz, SourceBadge, SourceChallenge:
		return true
	}
	return false
}

func (s SourceType) String() string { return string(s) }

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// Key - ключ идемпотентности. Одна транзакция на ключ, навсегда.
type Key struct {
	LearnerID  string
	SourceType SourceType
	SourceID   string
}

// Transaction - одна запись журнала XP. Записи только добавляются.
type Transaction struct {
	ID         string
	LearnerID  string
	SourceType SourceType
	SourceID   string
	Amount     shared.XP
	CreatedAt  time.Time
}

// Key возвращает ключ идемпотентности транзакции.
func (t *Transaction) Key() Key {
	return Key{LearnerID: t.LearnerID, SourceType: t.SourceType, SourceID: t.SourceID}
}

// NewTransaction создаёт транзакцию после проверки входных данных.
// Возвращает ValidationError при amount <= 0 или неизвестном source_type.
func NewTransaction(id string, key Key, amount shared.XP, now time.Time) (*Transaction, error) {
	if key.LearnerID == "" {
		return nil, shared.ErrEmptyLearnerID
	}
	if !key.SourceType.IsValid() {
		return nil, shared.ErrUnknownSource
	}
	if key.SourceID == "" {
		return nil, shared.ErrEmptySourceID
	}
	if !amount.IsAward() {
		return nil, shared.ErrNonPositiveAmount
	}
	return &Transaction{
		ID:         id,
		LearnerID:  key.LearnerID,
		SourceType: key.SourceType,
		SourceID:   key.SourceID,
		Amount:     amount,
		CreatedAt:  now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище журнала. Реализации в infrastructure/persistence.
type Repository interface {
	// Insert добавляет транзакцию. Если ключ уже занят, возвращает inserted=false
	// без ошибки и ничего не меняет.
	Insert(ctx context.Context, tx *Transaction) (inserted bool, err error)

	// FindByKey возвращает транзакцию по ключу идемпотентности.
	// Возвращает shared.ErrNotFound, если её нет.
	FindByKey(ctx context.Context, key Key) (*Transaction, error)

	// Balance возвращает сумму всех транзакций ученика.
	Balance(ctx context.Context, learnerID string) (shared.XP, error)

	// ListByLearner возвращает транзакции ученика в порядке создания.
	ListByLearner(ctx context.Context, learnerID string) ([]*Transaction, error)
}
