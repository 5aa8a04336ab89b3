package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

var at = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func lessonEvent() shared.Event {
	return shared.NewLessonCompletedEvent("ana", "l1", "civics-101", "l2", at)
}

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
}

func TestInMemoryBus_RoutesByType(t *testing.T) {
	bus := syncBus()
	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLessonCompleted, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(lessonEvent()))
	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("ana", "lesson", "l1", 10, 10, at)))

	assert.Equal(t, []shared.EventType{shared.EventLessonCompleted}, typed)
	assert.Equal(t, []shared.EventType{shared.EventLessonCompleted, shared.EventXPAwarded}, all)
	assert.Equal(t, int64(1), bus.Metrics().Published(shared.EventXPAwarded))
}

func TestInMemoryBus_HandlerFailuresDoNotReachPublisher(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("projection failed") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("nil map") }))

	assert.NoError(t, bus.Publish(lessonEvent()))
	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalHandlerExecs)
	assert.Zero(t, snap.HandlerSuccessRate)
}

func TestInMemoryBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})
	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(lessonEvent()))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(5), handled.Load())

	assert.ErrorIs(t, bus.Publish(lessonEvent()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventXPAwarded, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

// fakeHub fans every published message out to all subscribers, like a
// single Redis channel.
type fakeHub struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

func (h *fakeHub) Publish(_ context.Context, channel string, message interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (h *fakeHub) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	h.subs = append(h.subs, ch)
	return ch, nil
}

func TestRedisBus_FansOutToOtherInstances(t *testing.T) {
	hub := &fakeHub{}
	a, err := NewRedisEventBus(RedisEventBusConfig{Client: hub, InstanceID: "a"})
	require.NoError(t, err)
	b, err := NewRedisEventBus(RedisEventBusConfig{Client: hub, InstanceID: "b"})
	require.NoError(t, err)

	var local atomic.Int32
	require.NoError(t, a.Subscribe(shared.EventLessonCompleted, func(shared.Event) error {
		local.Add(1)
		return nil
	}))
	remote := make(chan shared.Event, 1)
	require.NoError(t, b.Subscribe(shared.EventLessonCompleted, func(e shared.Event) error {
		remote <- e
		return nil
	}))

	require.NoError(t, a.Publish(lessonEvent()))

	select {
	case e := <-remote:
		assert.True(t, IsRemote(e))
		assert.Equal(t, "ana", e.AggregateID())
		assert.Equal(t, "l1", e.Payload()["lesson_id"])
		assert.True(t, e.OccurredAt().Equal(at))
	case <-time.After(2 * time.Second):
		t.Fatal("remote instance did not receive the event")
	}

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, int32(1), local.Load(), "own messages are not replayed")
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}

func TestDispatcher_RetriesThenDeadLetters(t *testing.T) {
	bus := syncBus()
	d := NewDispatcher(DispatcherConfig{EventBus: bus, MaxRetries: 2})
	require.NoError(t, d.Start())

	var flaky, broken int
	require.NoError(t, d.Register(shared.EventLessonCompleted, "flaky", func(shared.Event) error {
		flaky++
		if flaky == 1 {
			return errors.New("cache timeout")
		}
		return nil
	}))
	require.NoError(t, d.Register(shared.EventLessonCompleted, "broken", func(shared.Event) error {
		broken++
		return errors.New("cache down")
	}))

	require.NoError(t, bus.Publish(lessonEvent()))

	assert.Equal(t, 2, flaky)
	assert.Equal(t, 2, broken)
	items := d.DeadLetters().Items()
	require.Len(t, items, 1)
	assert.Equal(t, "broken", items[0].Handler)
}

func TestDispatcher_PanicIsNotRetried(t *testing.T) {
	bus := syncBus()
	d := NewDispatcher(DispatcherConfig{EventBus: bus, MaxRetries: 3})
	d.Use(RecoveryMiddleware(d.logger))
	d.Use(LoggingMiddleware(d.logger))
	require.NoError(t, d.Start())

	calls := 0
	require.NoError(t, d.Register(shared.EventLessonCompleted, "panicky", func(shared.Event) error {
		calls++
		panic("boom")
	}))

	require.NoError(t, bus.Publish(lessonEvent()))
	assert.Equal(t, 1, calls)
	require.Equal(t, 1, d.DeadLetters().Len())
	assert.ErrorIs(t, d.DeadLetters().Items()[0].Err, ErrHandlerPanic)
}

func TestDeadLetterQueue_DropsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2)
	q.Add(DeadLetter{Handler: "one"})
	q.Add(DeadLetter{Handler: "two"})
	q.Add(DeadLetter{Handler: "three"})

	items := q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "two", items[0].Handler)
	assert.Equal(t, "three", items[1].Handler)
}
