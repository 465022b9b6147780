// Package redis provides a Redis PUBLISH/SUBSCRIBE implementation of the
// channel.Channel interface. Redis pub/sub is fire-and-forget, which matches
// the at-most-once contract: nothing is stored for absent subscribers.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/redis-collections-go/channel"
	"github.com/ggoodman/redis-collections-go/internal/redisconn"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis channel.
type Config struct {
	// Client is the Redis client to use. Required.
	Client redis.UniversalClient
	// CloseClient makes Close also close Client.
	CloseClient bool
}

// Channel implements channel.Channel on top of Redis pub/sub. Every
// subscription uses its own *redis.PubSub connection.
type Channel struct {
	client      redis.UniversalClient
	closeClient bool

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

type subscription struct {
	parent *Channel
	ps     *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a new Redis-based channel.
func New(config Config) (*Channel, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Channel{
		client:      config.Client,
		closeClient: config.CloseClient,
		subs:        make(map[*subscription]struct{}),
	}, nil
}

// NewFromEnv dials Redis using redisconn.FromEnv. The channel owns the
// resulting client.
func NewFromEnv(ctx context.Context) (*Channel, error) {
	cfg, err := redisconn.FromEnv()
	if err != nil {
		return nil, err
	}
	cl, err := redisconn.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(Config{Client: cl, CloseClient: true})
}

// Subscribe implements channel.Channel.Subscribe. It returns once Redis has
// confirmed the subscription.
func (c *Channel) Subscribe(ctx context.Context, topic string, handler channel.Handler) (channel.Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, channel.ErrClosed
	}
	c.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ps := c.client.Subscribe(subCtx, topic)

	// Wait for the subscribe confirmation so that publishes issued after we
	// return are guaranteed to reach us.
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &subscription{
		parent: c,
		ps:     ps,
		cancel: cancel,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.stop()
		return nil, channel.ErrClosed
	}
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go sub.run(subCtx, handler)

	return sub, nil
}

// Publish implements channel.Channel.Publish
func (c *Channel) Publish(ctx context.Context, topic string, payload string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return channel.ErrClosed
	}

	if err := c.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close implements channel.Channel.Close
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[*subscription]struct{})
	c.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	if c.closeClient {
		return c.client.Close()
	}
	return nil
}

// Unsubscribe implements channel.Subscription.Unsubscribe
func (s *subscription) Unsubscribe() error {
	s.parent.mu.Lock()
	delete(s.parent.subs, s)
	s.parent.mu.Unlock()

	s.stop()
	return nil
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		_ = s.ps.Close()
	})
}

func (s *subscription) run(ctx context.Context, handler channel.Handler) {
	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			handler(ctx, m.Channel, m.Payload)
		}
	}
}

// Compile-time interface checks
var (
	_ channel.Channel      = (*Channel)(nil)
	_ channel.Subscription = (*subscription)(nil)
)
