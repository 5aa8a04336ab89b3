package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/civiclearn/internal/infrastructure/messaging"
	"github.com/alem-hub/civiclearn/pkg/circuitbreaker"
)

// PubSub adapts the go-redis client to messaging.RedisClient.
type PubSub struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewPubSub creates a PubSub on the cache's client.
func NewPubSub(cache *Cache, onStateChange func(name string, from, to circuitbreaker.State)) *PubSub {
	return &PubSub{
		client:  cache.Client(),
		breaker: circuitbreaker.RedisBreaker("redis-pubsub", onStateChange),
	}
}

// Publish sends a pre-encoded message. An open breaker fails fast so that
// local delivery is not held up by a dead Redis.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.client.Publish(ctx, channel, message).Err()
	})
}

// Subscribe starts a subscription and forwards messages until ctx is done.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ messaging.RedisClient = (*PubSub)(nil)
