package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/query"
	"github.com/alem-hub/civiclearn/pkg/circuitbreaker"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "redis://:secret@cache.internal:6380/2"
	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, cfg.PoolSize, opts.PoolSize)

	cfg = DefaultConfig()
	opts, err = cfg.options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	cfg.URL = "http://not-redis"
	_, err = cfg.options()
	assert.Error(t, err)

	assert.Equal(t, "civiclearn:progress:ana:3", ProgressKey("ana", 3))
	assert.Equal(t, "civiclearn:progress-gen:ana", ProgressGenKey("ana"))
}

func TestProgressCache_OpensBreakerWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	pc := NewProgressCache(NewCacheFromClient(client, DefaultConfig()), logger.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dto, ok, err := pc.Get(ctx, "ana", 0, 1)
		require.Error(t, err)
		assert.False(t, ok)
		assert.Nil(t, dto)
		assert.False(t, circuitbreaker.IsRejected(err))
	}

	_, _, err := pc.Get(ctx, "ana", 0, 1)
	assert.True(t, circuitbreaker.IsRejected(err), "breaker fails fast once open")

	_, err = pc.Generation(ctx, "ana")
	assert.True(t, circuitbreaker.IsRejected(err))

	err = pc.Invalidate(ctx, "ana")
	assert.True(t, circuitbreaker.IsRejected(err), "direct bump fails too, breaker error is reported")
}

// Runs against a real server when TEST_REDIS_ADDR is set.
func TestProgressCache_Integration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	cfg := DefaultConfig()
	cfg.URL = "redis://" + addr + "/15"
	cache, err := NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	pc := NewProgressCache(cache, logger.Nop())
	ctx := context.Background()
	require.NoError(t, pc.Flush(ctx))

	gen, err := pc.Generation(ctx, "ana")
	require.NoError(t, err)

	_, ok, err := pc.Get(ctx, "ana", gen, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	dto := &query.LearnerProgressDTO{LearnerID: "ana", ContentVersion: 3, TotalXP: 45, StreakCount: 2}
	require.NoError(t, pc.Set(ctx, dto, gen))

	got, ok, err := pc.Get(ctx, "ana", gen, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(45), got.TotalXP)

	_, ok, err = pc.Get(ctx, "ana", gen, 4)
	require.NoError(t, err)
	assert.False(t, ok, "entries built for another content version are misses")

	require.NoError(t, pc.Invalidate(ctx, "ana"))
	next, err := pc.Generation(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)

	// A response built before the invalidation and stored late stays unreachable.
	require.NoError(t, pc.Set(ctx, dto, gen))
	_, ok, err = pc.Get(ctx, "ana", next, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}
