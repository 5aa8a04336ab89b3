package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRedisDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func failing(context.Context) error { return errRedisDown }
func passing(context.Context) error { return nil }

func TestBreaker_OpensAndRecovers(t *testing.T) {
	clock := &manualClock{t: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := New("progress-cache",
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithClock(clock.now),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, failing), errRedisDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, failing), errRedisDown)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, passing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))

	clock.t = clock.t.Add(10 * time.Second)
	require.NoError(t, cb.Execute(ctx, passing))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &manualClock{t: time.Now()}
	cb := New("bus", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.now))
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	require.Equal(t, StateOpen, cb.State())

	clock.t = clock.t.Add(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, failing), errRedisDown)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := New("cache", WithFailureThreshold(1))
	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Counts().TotalFailures)
}

func TestBreaker_Fallback(t *testing.T) {
	cb := New("cache", WithFailureThreshold(1))
	ctx := context.Background()
	_ = cb.Execute(ctx, failing)

	used := false
	err := cb.ExecuteWithFallback(ctx, passing, func(error) error {
		used = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, used)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
}
