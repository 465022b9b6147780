// Package memory provides an in-process implementation of channel.Channel.
// Each subscription owns a buffered queue drained by its own goroutine, so
// publishers never block on slow handlers. A full queue drops the payload,
// which keeps the at-most-once contract of the Redis implementation.
package memory

import (
	"context"
	"sync"

	"github.com/ggoodman/redis-collections-go/channel"
)

// DefaultBuffer is the per-subscription queue depth used by New.
const DefaultBuffer = 256

// Channel implements channel.Channel in memory.
type Channel struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}
	closed bool
	buffer int
}

type subscription struct {
	parent  *Channel
	topic   string
	handler channel.Handler
	queue   chan string
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// New creates a memory channel with DefaultBuffer-deep subscriber queues.
func New() *Channel {
	return NewWithBuffer(DefaultBuffer)
}

// NewWithBuffer creates a memory channel with the given per-subscriber
// queue depth.
func NewWithBuffer(buffer int) *Channel {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Channel{
		topics: make(map[string]map[*subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe implements channel.Channel.Subscribe
func (c *Channel) Subscribe(ctx context.Context, topic string, handler channel.Handler) (channel.Subscription, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// The subscription outlives the call that created it; keep ctx values
	// for handlers but not its cancellation.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		parent:  c,
		topic:   topic,
		handler: handler,
		queue:   make(chan string, c.buffer),
		ctx:     subCtx,
		cancel:  cancel,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, channel.ErrClosed
	}
	subs, ok := c.topics[topic]
	if !ok {
		subs = make(map[*subscription]struct{})
		c.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	c.mu.Unlock()

	go sub.run()

	return sub, nil
}

// Publish implements channel.Channel.Publish
func (c *Channel) Publish(ctx context.Context, topic string, payload string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return channel.ErrClosed
	}

	for sub := range c.topics[topic] {
		select {
		case sub.queue <- payload:
		case <-sub.ctx.Done():
		default:
			// Subscriber is backed up; drop.
		}
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
	var subs []*subscription
	for _, set := range c.topics {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	c.topics = make(map[string]map[*subscription]struct{})
	c.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

// Unsubscribe implements channel.Subscription.Unsubscribe
func (s *subscription) Unsubscribe() error {
	s.parent.mu.Lock()
	if set, ok := s.parent.topics[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.parent.topics, s.topic)
		}
	}
	s.parent.mu.Unlock()

	s.stop()
	return nil
}

func (s *subscription) stop() {
	s.once.Do(s.cancel)
}

func (s *subscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case payload := <-s.queue:
			// Prefer stopping over delivering once cancelled.
			if s.ctx.Err() != nil {
				return
			}
			s.handler(s.ctx, s.topic, payload)
		}
	}
}

// Compile-time interface checks
var (
	_ channel.Channel      = (*Channel)(nil)
	_ channel.Subscription = (*subscription)(nil)
)
