package command

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISH CONTENT COMMAND
// Validate → Dedup by checksum → Store new version → Activate locally →
// announce to other replicas.
// ══════════════════════════════════════════════════════════════════════════════

// Activator installs a stored version as the active snapshot.
type Activator interface {
	Activate(v *catalog.Version)
}

type PublishContentCommand struct {
	Bundle catalog.Bundle
}

type PublishContentResult struct {
	Version     int64     `json:"version"`
	Checksum    string    `json:"checksum"`
	PublishedAt time.Time `json:"published_at"`
	Duplicate   bool      `json:"duplicate"`
}

// PublishContentHandler validates and stores content bundles.
type PublishContentHandler struct {
	repo      catalog.Repository
	registry  Activator
	clock     timeutil.Clock
	publisher shared.EventPublisher
	log       *logger.Logger
}

func NewPublishContentHandler(repo catalog.Repository, registry Activator, clock timeutil.Clock, publisher shared.EventPublisher, log *logger.Logger) *PublishContentHandler {
	return &PublishContentHandler{
		repo:      repo,
		registry:  registry,
		clock:     clock,
		publisher: publisher,
		log:       log.With(logger.Component("publish_content")),
	}
}

// Handle rejects an invalid bundle with a ConfigurationError and leaves the
// active version untouched. Publishing a bundle identical to a stored one is
// a no-op that returns the stored version.
func (h *PublishContentHandler) Handle(ctx context.Context, cmd PublishContentCommand) (result *PublishContentResult, err error) {
	ctx, span := startSpan(ctx, "command.PublishContent", "")
	defer func() { endSpan(span, err) }()

	bundle := cmd.Bundle
	bundle.Normalize()
	if err := bundle.Validate(); err != nil {
		h.log.Warn("content bundle rejected", logger.Err(err))
		return nil, err
	}
	checksum, err := bundle.Checksum()
	if err != nil {
		return nil, fmt.Errorf("failed to checksum bundle: %w", err)
	}
	span.SetAttributes(attribute.String("content.checksum", checksum))

	existing, err := h.repo.FindByChecksum(ctx, checksum)
	switch {
	case err == nil:
		h.registry.Activate(existing)
		return &PublishContentResult{
			Version:     existing.Version,
			Checksum:    existing.Checksum,
			PublishedAt: existing.PublishedAt,
			Duplicate:   true,
		}, nil
	case !shared.IsNotFound(err):
		return nil, fmt.Errorf("failed to look up content version: %w", err)
	}

	v := &catalog.Version{
		Checksum:    checksum,
		PublishedAt: timeutil.Truncate(h.clock.Now()),
		Bundle:      bundle,
	}
	if err := h.repo.Save(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to save content version: %w", err)
	}
	h.registry.Activate(v)

	if h.publisher != nil {
		if err := h.publisher.Publish(shared.NewContentPublishedEvent(v.Version, v.Checksum, v.PublishedAt)); err != nil {
			h.log.Warn("failed to announce content version", logger.ContentVersion(v.Version), logger.Err(err))
		}
	}
	h.log.Info("content published",
		logger.ContentVersion(v.Version),
		logger.String("checksum", checksum),
		logger.Int("modules", len(bundle.Modules)),
		logger.Int("quizzes", len(bundle.Quizzes)),
		logger.Int("badges", len(bundle.Badges)),
		logger.Int("challenges", len(bundle.Challenges)),
	)
	return &PublishContentResult{
		Version:     v.Version,
		Checksum:    v.Checksum,
		PublishedAt: v.PublishedAt,
	}, nil
}
