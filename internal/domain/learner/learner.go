// Package learner содержит агрегат ученика: серию активных дней и счётчик
// активности в сообществе. Общий XP не хранится здесь, он выводится из журнала.
package learner

import (
	"context"
	"time"

	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

// Learner - ученик. Создаётся при первом событии и никогда не удаляется.
type Learner struct {
	ID string

	// StreakCount - число подряд идущих дней с активностью.
	StreakCount int

	// LastActiveOn - день последней активности (UTC, начало дня).
	LastActiveOn time.Time

	// CommunityPosts - число публикаций в сообществе (приходит извне).
	CommunityPosts int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New создаёт нового ученика.
func New(id string, now time.Time) *Learner {
	return &Learner{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TouchStreak обновляет серию дней. Возвращает true, если значение изменилось.
//   - тот же день: без изменений;
//   - следующий день: +1;
//   - пропуск или первое событие: серия начинается заново с 1.
func (l *Learner) TouchStreak(now time.Time) bool {
	today := timeutil.StartOfDay(now)
	if !l.LastActiveOn.IsZero() {
		switch days := timeutil.DaysBetween(l.LastActiveOn, today); {
		case days <= 0:
			return false
		case days == 1:
			l.StreakCount++
		default:
			l.StreakCount = 1
		}
	} else {
		l.StreakCount = 1
	}
	l.LastActiveOn = today
	l.UpdatedAt = now
	return true
}

// AddCommunityPost увеличивает счётчик публикаций.
func (l *Learner) AddCommunityPost(now time.Time) {
	l.CommunityPosts++
	l.UpdatedAt = now
}

// ActivityKind - вид активности в сообществе.
type ActivityKind string

const (
	ActivityPost  ActivityKind = "post"
	ActivityReply ActivityKind = "reply"
)

func (k ActivityKind) IsValid() bool {
	return k == ActivityPost || k == ActivityReply
}

// Repository - хранилище учеников.
type Repository interface {
	// GetOrCreate возвращает ученика, создавая его при первом обращении.
	GetOrCreate(ctx context.Context, id string, now time.Time) (*Learner, error)

	// Get возвращает ученика или shared.ErrNotFound.
	Get(ctx context.Context, id string) (*Learner, error)

	// Save сохраняет изменения ученика.
	Save(ctx context.Context, l *Learner) error

	// RecordCommunityActivity запоминает внешнюю активность. Возвращает false,
	// если эта активность (по externalID) уже была учтена.
	RecordCommunityActivity(ctx context.Context, learnerID string, kind ActivityKind, externalID string, at time.Time) (bool, error)
}
