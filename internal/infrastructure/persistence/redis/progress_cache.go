package redis

import (
	"context"
	"errors"

	"github.com/alem-hub/civiclearn/internal/application/query"
	"github.com/alem-hub/civiclearn/pkg/circuitbreaker"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/retry"
)

// ProgressCache caches learner progress responses. Entries are keyed by a
// per-learner generation: Invalidate bumps the generation, so a response built
// before a commit lands under a key nobody reads again. The stored value also
// carries the content version it was built against; a hit for another version
// is a miss.
type ProgressCache struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewProgressCache creates a ProgressCache guarded by a circuit breaker.
func NewProgressCache(cache *Cache, log *logger.Logger) *ProgressCache {
	log = log.Named("progress_cache")
	return &ProgressCache{
		cache: cache,
		breaker: circuitbreaker.RedisBreaker("redis-progress", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		retrier: retry.CacheRetrier(),
		log:     log,
	}
}

// Generation returns the learner's current cache generation.
func (p *ProgressCache) Generation(ctx context.Context, learnerID string) (int64, error) {
	var gen int64
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		gen, err = retry.DoWithData(ctx, p.retrier, func(ctx context.Context) (int64, error) {
			n, err := p.cache.Counter(ctx, ProgressGenKey(learnerID))
			if err != nil {
				return 0, classify(err)
			}
			return n, nil
		})
		return err
	})
	return gen, err
}

// Get returns the cached response for learnerID at generation if it was built
// for contentVersion.
func (p *ProgressCache) Get(ctx context.Context, learnerID string, generation, contentVersion int64) (*query.LearnerProgressDTO, bool, error) {
	var dto query.LearnerProgressDTO
	err := p.do(ctx, func(ctx context.Context) error {
		return p.cache.Get(ctx, ProgressKey(learnerID, generation), &dto)
	})
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if dto.ContentVersion != contentVersion {
		return nil, false, nil
	}
	return &dto, true, nil
}

// Set stores dto under its learner id and the generation read before it was built.
func (p *ProgressCache) Set(ctx context.Context, dto *query.LearnerProgressDTO, generation int64) error {
	return p.do(ctx, func(ctx context.Context) error {
		return p.cache.Set(ctx, ProgressKey(dto.LearnerID, generation), dto, TTLProgress)
	})
}

// Invalidate moves learnerID to a new generation. An open breaker does not
// skip the bump: it is tried once directly.
func (p *ProgressCache) Invalidate(ctx context.Context, learnerID string) error {
	bump := func(ctx context.Context) error {
		_, err := p.cache.Incr(ctx, ProgressGenKey(learnerID), TTLProgressGen)
		return err
	}
	return p.breaker.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			return p.retrier.Do(ctx, func(ctx context.Context) error {
				return classify(bump(ctx))
			})
		},
		func(rejected error) error {
			if err := bump(ctx); err != nil {
				p.log.Warn("progress invalidation failed with breaker open",
					logger.LearnerID(learnerID), logger.Err(err))
				return rejected
			}
			return nil
		},
	)
}

// Flush drops every cached response.
func (p *ProgressCache) Flush(ctx context.Context) error {
	return p.do(ctx, func(ctx context.Context) error {
		return p.cache.DeleteByPattern(ctx, PrefixProgress+"*")
	})
}

// do runs op through the breaker. A miss is a normal answer and is neither
// retried nor counted as a failure.
func (p *ProgressCache) do(ctx context.Context, op func(context.Context) error) error {
	var miss bool
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.retrier.Do(ctx, func(ctx context.Context) error {
			err := op(ctx)
			if errors.Is(err, ErrCacheMiss) {
				miss = true
				return nil
			}
			return classify(err)
		})
	})
	if miss && err == nil {
		return ErrCacheMiss
	}
	return err
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCacheSerialization), errors.Is(err, ErrCacheKeyEmpty):
		return retry.Permanent(err)
	default:
		return retry.Retryable(err)
	}
}

var _ query.ProgressCache = (*ProgressCache)(nil)
