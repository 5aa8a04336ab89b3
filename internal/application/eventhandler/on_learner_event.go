// Package eventhandler содержит подписчиков на доменные события. Они
// вызываются после коммита и не влияют на результат исходной команды.
package eventhandler

import (
	"context"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LEARNER EVENT HANDLER
// Сбрасывает кэш прогресса ученика после любого события, изменившего его
// состояние. Следующий GetLearnerProgress прочитает данные из БД.
// ═══════════════════════════════════════════════════════════════════════════

// CacheInvalidator - то, что умеет сбрасывать кэш прогресса.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, learnerID string) error
}

// OnLearnerEventHandler сбрасывает кэш прогресса.
type OnLearnerEventHandler struct {
	cache   CacheInvalidator
	timeout time.Duration
	logger  *logger.Logger
}

// NewOnLearnerEventHandler создаёт обработчик.
func NewOnLearnerEventHandler(cache CacheInvalidator, log *logger.Logger) *OnLearnerEventHandler {
	return &OnLearnerEventHandler{
		cache:   cache,
		timeout: 2 * time.Second,
		logger:  log.With(logger.Component("on_learner_event")),
	}
}

// LearnerEvents - события, после которых меняется ответ GetLearnerProgress.
func LearnerEvents() []shared.EventType {
	return []shared.EventType{
		shared.EventLessonCompleted,
		shared.EventModuleCompleted,
		shared.EventXPAwarded,
		shared.EventQuizSubmitted,
		shared.EventBadgeAwarded,
		shared.EventChallengeJoined,
		shared.EventChallengeCompleted,
		shared.EventCommunityActivity,
	}
}

// Handle обрабатывает событие. Идемпотентен: повторный сброс безвреден.
func (h *OnLearnerEventHandler) Handle(event shared.Event) error {
	learnerID := event.AggregateID()
	if learnerID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, learnerID); err != nil {
		return err
	}
	h.logger.Debug("progress cache invalidated",
		logger.LearnerID(learnerID),
		logger.EventType(string(event.EventType())),
	)
	return nil
}
