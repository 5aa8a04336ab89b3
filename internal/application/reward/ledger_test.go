package reward_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/reward"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/civiclearn/internal/infrastructure/service"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

type countingPublisher struct{ n int }

func (p *countingPublisher) Publish(shared.Event) error {
	p.n++
	return nil
}

func newService() (*reward.Service, *countingPublisher) {
	pub := &countingPublisher{}
	clock := timeutil.NewFixedClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	svc := reward.NewService(memory.NewStore(), reward.NewAwarder(service.NewIDGenerator()), clock, pub, logger.Nop())
	return svc, pub
}

func TestService_AwardIsIdempotentPerSource(t *testing.T) {
	svc, pub := newService()
	ctx := context.Background()

	first, err := svc.Award(ctx, "ana", ledger.SourceLesson, "l1", 10)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, shared.XP(10), first.Awarded())

	again, err := svc.Award(ctx, "ana", ledger.SourceLesson, "l1", 10)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, shared.XP(0), again.Awarded())
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)

	_, err = svc.Award(ctx, "ana", ledger.SourceModule, "l1", 25)
	require.NoError(t, err, "same source id under another type is a new key")

	balance, err := svc.Balance(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, shared.XP(35), balance)
	assert.Equal(t, 2, pub.n)
}

func TestService_AwardRejectsInvalidInput(t *testing.T) {
	svc, pub := newService()
	ctx := context.Background()

	_, err := svc.Award(ctx, "ana", ledger.SourceLesson, "l1", 0)
	assert.ErrorIs(t, err, shared.ErrNonPositiveAmount)

	_, err = svc.Award(ctx, "ana", "streak", "day-1", 5)
	assert.ErrorIs(t, err, shared.ErrUnknownSource)

	_, err = svc.Award(ctx, "", ledger.SourceLesson, "l1", 5)
	assert.True(t, shared.IsValidation(err))

	balance, err := svc.Balance(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, shared.XP(0), balance)
	assert.Equal(t, 0, pub.n)
}
