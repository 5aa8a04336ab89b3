package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

type invalidatorStub struct {
	ids []string
	err error
}

func (s *invalidatorStub) Invalidate(_ context.Context, learnerID string) error {
	s.ids = append(s.ids, learnerID)
	return s.err
}

type reloaderStub struct {
	active  int64
	reloads int
}

func (r *reloaderStub) Reload(context.Context) error {
	r.reloads++
	r.active++
	return nil
}

func (r *reloaderStub) ActiveVersion() int64 { return r.active }

// remoteEvent mimics an event decoded from Redis: numbers arrive as float64.
type remoteEvent struct {
	shared.BaseEvent
	payload map[string]interface{}
}

func (e remoteEvent) Payload() map[string]interface{} { return e.payload }

var at = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func TestOnLearnerEvent_InvalidatesLearnerCache(t *testing.T) {
	cache := &invalidatorStub{}
	h := NewOnLearnerEventHandler(cache, logger.Nop())

	require.NoError(t, h.Handle(shared.NewLessonCompletedEvent("ana", "l1", "civics-101", "l2", at)))
	require.NoError(t, h.Handle(shared.NewChallengeJoinedEvent("bob", "town-hall", at)))
	assert.Equal(t, []string{"ana", "bob"}, cache.ids)

	cache.err = errors.New("redis down")
	assert.Error(t, h.Handle(shared.NewXPAwardedEvent("ana", "lesson", "l1", 10, 10, at)))
}

func TestLearnerEvents_ExcludesContent(t *testing.T) {
	assert.NotContains(t, LearnerEvents(), shared.EventContentPublished)
	assert.Contains(t, LearnerEvents(), shared.EventCommunityActivity)
}

func TestOnContentPublished_ReloadsOnlyNewerVersions(t *testing.T) {
	reg := &reloaderStub{active: 3}
	h := NewOnContentPublishedHandler(reg, logger.Nop())

	require.NoError(t, h.Handle(shared.NewContentPublishedEvent(3, "abc", at)))
	assert.Equal(t, 0, reg.reloads, "own publish is already active")

	remote := remoteEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventContentPublished, "catalog", at),
		payload:   map[string]interface{}{"version": float64(4), "checksum": "def"},
	}
	require.NoError(t, h.Handle(remote))
	assert.Equal(t, 1, reg.reloads)
	assert.Equal(t, int64(4), reg.ActiveVersion())

	require.NoError(t, h.Handle(shared.NewLessonCompletedEvent("ana", "l1", "m", "", at)))
	assert.Equal(t, 1, reg.reloads)
}
