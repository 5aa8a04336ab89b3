package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// invalidation is what the cache saw at the moment it was dropped.
type invalidation struct {
	learnerID string
	balance   shared.XP
	published int
}

type progressSpy struct {
	h     *harness
	calls []invalidation
	err   error
}

func (s *progressSpy) Invalidate(_ context.Context, learnerID string) error {
	s.h.events.mu.Lock()
	published := len(s.h.events.events)
	s.h.events.mu.Unlock()
	s.calls = append(s.calls, invalidation{
		learnerID: learnerID,
		balance:   s.h.balance(learnerID),
		published: published,
	})
	return s.err
}

func withProgressSpy(spy *progressSpy) option {
	return func(d *command.Deps) { d.Progress = spy }
}

func TestCommands_InvalidateProgressAfterCommitBeforeReturning(t *testing.T) {
	spy := &progressSpy{}
	h := newHarness(t, withProgressSpy(spy))
	spy.h = h
	before := len(h.events.events)

	_, err := h.completeLesson("ana", "l1")
	require.NoError(t, err)

	require.Len(t, spy.calls, 1, "invalidated by the time Handle returns")
	assert.Equal(t, "ana", spy.calls[0].learnerID)
	assert.Equal(t, shared.XP(15), spy.calls[0].balance, "committed state is visible")
	assert.Equal(t, before, spy.calls[0].published, "cache dropped before events go out")

	_, err = h.join.Handle(context.Background(), command.JoinChallengeCommand{LearnerID: "bob", ChallengeID: "town-hall"})
	require.NoError(t, err)
	require.Len(t, spy.calls, 2)
	assert.Equal(t, "bob", spy.calls[1].learnerID)

	attemptID := h.answerQuiz("ana", 10)
	_, err = h.submit.Handle(context.Background(), command.SubmitQuizAttemptCommand{AttemptID: attemptID})
	require.NoError(t, err)
	last := spy.calls[len(spy.calls)-1]
	assert.Equal(t, "ana", last.learnerID)
	assert.Equal(t, shared.XP(115), last.balance)
}

func TestCommands_FailedUnitOfWorkDoesNotInvalidate(t *testing.T) {
	spy := &progressSpy{}
	h := newHarness(t, withProgressSpy(spy))
	spy.h = h

	_, err := h.completeLesson("ana", "l3")
	require.Error(t, err)
	assert.Empty(t, spy.calls)
}

func TestCommands_InvalidationErrorDoesNotFailCommand(t *testing.T) {
	spy := &progressSpy{err: errors.New("redis down")}
	h := newHarness(t, withProgressSpy(spy))
	spy.h = h

	res, err := h.completeLesson("ana", "l1")
	require.NoError(t, err)
	assert.Equal(t, shared.XP(10), res.XPAwarded)
	assert.Len(t, spy.calls, 1)
	assert.Equal(t, 1, h.events.count(shared.EventLessonCompleted))
}
