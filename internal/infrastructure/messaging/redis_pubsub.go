package messaging

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/proctorhub/proctoring-service/internal/infrastructure/persistence/redis"
)

// CachePubSub adapts the persistence layer's redis cache wrapper to the
// RedisClient interface the event bus consumes. The same connection
// pool serves both summary caching and event fan-out.
type CachePubSub struct {
	cache *redis.Cache

	mu   sync.Mutex
	subs []*goredis.PubSub
}

// NewCachePubSub wraps an established cache connection.
func NewCachePubSub(cache *redis.Cache) *CachePubSub {
	return &CachePubSub{cache: cache}
}

// Publish sends a message on the channel.
func (p *CachePubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.cache.Publish(ctx, channel, message)
}

// Subscribe opens a subscription and returns its message stream. The
// stream closes when the subscription is closed or the connection drops.
func (p *CachePubSub) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	sub := p.cache.Subscribe(ctx, channels...)

	// Confirm the subscription before handing out the channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close tears down all subscriptions opened through this adapter. The
// underlying cache connection stays open; its owner closes it.
func (p *CachePubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}
