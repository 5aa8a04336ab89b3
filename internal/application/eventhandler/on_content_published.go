package eventhandler

import (
	"context"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON CONTENT PUBLISHED HANDLER
// Другая реплика опубликовала новую версию контента: перечитываем последнюю
// версию из БД. Своя публикация уже активна и повторно не загружается.
// ═══════════════════════════════════════════════════════════════════════════

// ContentReloader - реестр активного контента.
type ContentReloader interface {
	Reload(ctx context.Context) error
	ActiveVersion() int64
}

// OnContentPublishedHandler перезагружает контент.
type OnContentPublishedHandler struct {
	registry ContentReloader
	timeout  time.Duration
	logger   *logger.Logger
}

// NewOnContentPublishedHandler создаёт обработчик.
func NewOnContentPublishedHandler(registry ContentReloader, log *logger.Logger) *OnContentPublishedHandler {
	return &OnContentPublishedHandler{
		registry: registry,
		timeout:  10 * time.Second,
		logger:   log.With(logger.Component("on_content_published")),
	}
}

// Handle обрабатывает событие content.published.
func (h *OnContentPublishedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventContentPublished {
		return nil
	}
	version := payloadVersion(event.Payload())
	if version > 0 && version <= h.registry.ActiveVersion() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.registry.Reload(ctx); err != nil {
		return err
	}
	h.logger.Info("content reloaded after remote publish",
		logger.ContentVersion(h.registry.ActiveVersion()),
	)
	return nil
}

// payloadVersion читает номер версии. После JSON числа приходят как float64.
func payloadVersion(p map[string]interface{}) int64 {
	switch v := p["version"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
