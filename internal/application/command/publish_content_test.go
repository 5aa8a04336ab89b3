package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

func TestPublishContent_InvalidBundleKeepsActiveVersion(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, int64(1), h.registry.ActiveVersion())

	bad := fixtureBundle()
	bad.Modules[0].Lessons[2].OrderIndex = 7
	_, err := h.publish.Handle(context.Background(), command.PublishContentCommand{Bundle: bad})
	assert.True(t, shared.IsConfiguration(err))

	bad = fixtureBundle()
	bad.Badges[0].Conditions[0].Operator = "≈"
	_, err = h.publish.Handle(context.Background(), command.PublishContentCommand{Bundle: bad})
	assert.True(t, shared.IsConfiguration(err))

	assert.Equal(t, int64(1), h.registry.ActiveVersion())
	assert.Equal(t, 1, h.events.count(shared.EventContentPublished))
}

func TestPublishContent_IdenticalBundleIsDuplicate(t *testing.T) {
	h := newHarness(t)

	res, err := h.publish.Handle(context.Background(), command.PublishContentCommand{Bundle: fixtureBundle()})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(1), res.Version)
	assert.Equal(t, 1, h.events.count(shared.EventContentPublished))
}

func TestPublishContent_NewVersionAppliesToLaterEvents(t *testing.T) {
	h := newHarness(t)

	_, err := h.completeLesson("ana", "l1")
	require.NoError(t, err)

	next := fixtureBundle()
	next.Modules[0].Lessons[1].XPReward = 30
	res, err := h.publish.Handle(context.Background(), command.PublishContentCommand{Bundle: next})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(2), res.Version)
	assert.Equal(t, int64(2), h.registry.ActiveVersion())

	lesson, err := h.completeLesson("ana", "l2")
	require.NoError(t, err)
	assert.Equal(t, shared.XP(30), lesson.XPAwarded)
	assert.Equal(t, shared.XP(45), h.balance("ana"))
}
