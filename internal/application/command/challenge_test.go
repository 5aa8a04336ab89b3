package command_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

func (h *harness) joinChallenge(learnerID string) (*command.JoinChallengeResult, error) {
	return h.join.Handle(context.Background(), command.JoinChallengeCommand{LearnerID: learnerID, ChallengeID: "town-hall"})
}

func (h *harness) completeChallenge(learnerID string) (*command.CompleteChallengeResult, error) {
	return h.complete.Handle(context.Background(), command.CompleteChallengeCommand{LearnerID: learnerID, ChallengeID: "town-hall"})
}

func TestJoinChallenge_ConcurrentJoinsRespectCapacity(t *testing.T) {
	h := newHarness(t)

	const learners = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		full int
	)
	for i := 0; i < learners; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.joinChallenge(id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, shared.ErrCapacityExceeded):
				full++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(fmt.Sprintf("learner-%d", i))
	}
	wg.Wait()

	assert.Equal(t, 2, ok)
	assert.Equal(t, learners-2, full)

	var seats int64
	require.NoError(t, h.store.Read(context.Background(), func(ctx context.Context, r txn.Repos) error {
		var err error
		seats, err = r.Challenges.CountParticipants(ctx, "town-hall")
		return err
	}))
	assert.Equal(t, int64(2), seats)
}

func TestJoinChallenge_RepeatJoinIsDuplicate(t *testing.T) {
	h := newHarness(t)

	first, err := h.joinChallenge("ana")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := h.joinChallenge("ana")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Participation.JoinedAt, again.Participation.JoinedAt)

	_, err = h.joinChallenge("bob")
	require.NoError(t, err, "a repeated join does not take a second seat")
	assert.Equal(t, 2, h.events.count(shared.EventChallengeJoined))
}

func TestJoinChallenge_OutsideWindow(t *testing.T) {
	h := newHarness(t)

	h.clock.Set(challengeStart.Add(-time.Minute))
	_, err := h.joinChallenge("ana")
	assert.ErrorIs(t, err, shared.ErrChallengeNotActive)

	h.clock.Set(challengeEnd)
	_, err = h.joinChallenge("ana")
	assert.ErrorIs(t, err, shared.ErrChallengeNotActive)
	assert.True(t, shared.IsConflict(err))
}

func TestCompleteChallenge_AwardsXPAndRewardBadge(t *testing.T) {
	h := newHarness(t)

	_, err := h.joinChallenge("ana")
	require.NoError(t, err)

	res, err := h.completeChallenge("ana")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, shared.XP(40), res.XPAwarded)
	require.Len(t, res.BadgesAwarded, 1)
	assert.Equal(t, "town-hall-hero", res.BadgesAwarded[0].BadgeID)
	assert.Equal(t, "challenge:town-hall", res.BadgesAwarded[0].Source)
	assert.Equal(t, shared.XP(55), h.balance("ana"))

	h.clock.Set(challengeEnd.Add(time.Hour))
	replay, err := h.completeChallenge("ana")
	require.NoError(t, err, "replay after the window stays a duplicate")
	assert.True(t, replay.Duplicate)
	assert.Equal(t, shared.XP(40), replay.XPAwarded)
	assert.Equal(t, epoch, replay.CompletedAt)

	assert.Equal(t, shared.XP(55), h.balance("ana"))
	assert.Equal(t, 1, h.events.count(shared.EventChallengeCompleted))
	assert.Equal(t, 1, h.events.count(shared.EventBadgeAwarded))
}

func TestCompleteChallenge_AtEndAtIsOnTime(t *testing.T) {
	h := newHarness(t)
	_, err := h.joinChallenge("ana")
	require.NoError(t, err)

	h.clock.Set(challengeEnd)
	res, err := h.completeChallenge("ana")
	require.NoError(t, err)
	assert.Equal(t, challengeEnd, res.CompletedAt)
}

func TestCompleteChallenge_LateSubmission(t *testing.T) {
	h := newHarness(t)
	_, err := h.joinChallenge("ana")
	require.NoError(t, err)

	h.clock.Set(challengeEnd.Add(time.Second))
	_, err = h.completeChallenge("ana")
	assert.ErrorIs(t, err, shared.ErrLateSubmission)
	assert.Equal(t, shared.XP(0), h.balance("ana"))
}

func TestCompleteChallenge_RequiresParticipation(t *testing.T) {
	h := newHarness(t)

	_, err := h.completeChallenge("ana")
	assert.ErrorIs(t, err, shared.ErrNotParticipant)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = h.complete.Handle(context.Background(), command.CompleteChallengeCommand{LearnerID: "ana", ChallengeID: "nope"})
	assert.True(t, shared.IsNotFound(err))
}
