package collections

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/redis-collections-go/channel"
	memchannel "github.com/ggoodman/redis-collections-go/channel/memory"
	"github.com/ggoodman/redis-collections-go/store"
	memstore "github.com/ggoodman/redis-collections-go/store/memory"
)

// harness is one shared store and one shared channel. Every service built
// from it behaves like a separate process connected to the same Redis.
type harness struct {
	store   store.Store
	channel channel.Channel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memstore.New(), channel: memchannel.New()}
	t.Cleanup(func() { _ = h.channel.Close() })
	return h
}

func quiet(opts []Option) []Option {
	return append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
}

func (h *harness) queue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q, err := NewQueue(context.Background(), h.store, h.channel, quiet(opts)...)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func (h *harness) stack(t *testing.T, opts ...Option) *Stack {
	t.Helper()
	s, err := NewStack(context.Background(), h.store, h.channel, quiet(opts)...)
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (h *harness) sortedSet(t *testing.T, opts ...Option) *SortedSet {
	t.Helper()
	z, err := NewSortedSet(context.Background(), h.store, h.channel, quiet(opts)...)
	if err != nil {
		t.Fatalf("NewSortedSet: %v", err)
	}
	t.Cleanup(func() { _ = z.Close() })
	return z
}

func attach(t *testing.T, src Source, opts ...ReplicaOption) *Replica {
	t.Helper()
	r := NewReplica(src, opts...)
	if err := r.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(r.Detach)
	return r
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForItems(t *testing.T, r *Replica, want []string) {
	t.Helper()
	waitFor(t, "replica items", func() bool { return reflect.DeepEqual(r.Items(), want) })
}

// settle gives in-flight deliveries a moment to land before asserting that
// nothing else arrives.
func settle() { time.Sleep(50 * time.Millisecond) }

type counter struct {
	mu    sync.Mutex
	items []string
}

func (c *counter) add(item string) {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
}

func (c *counter) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.items...)
}

// gatedStore blocks list pushes until release is closed.
type gatedStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(inner store.Store) *gatedStore {
	return &gatedStore{Store: inner, entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedStore) PushRight(ctx context.Context, key, value string) (int64, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.PushRight(ctx, key, value)
}

// failingChannel delivers subscriptions normally but refuses to publish.
type failingChannel struct {
	channel.Channel
}

var errPublishRefused = errors.New("publish refused")

func (failingChannel) Publish(context.Context, string, string) error {
	return errPublishRefused
}

// hookStore runs afterPush once a list push has committed.
type hookStore struct {
	store.Store
	afterPush func()
}

func (h *hookStore) PushRight(ctx context.Context, key, value string) (int64, error) {
	n, err := h.Store.PushRight(ctx, key, value)
	if err == nil {
		h.afterPush()
	}
	return n, err
}

// recordingChannel remembers the context state of the last publish. Only
// safe for publishes made from the test goroutine.
type recordingChannel struct {
	channel.Channel
	published int
	lastErr   error
}

func (r *recordingChannel) Publish(ctx context.Context, topic, payload string) error {
	r.published++
	r.lastErr = ctx.Err()
	return r.Channel.Publish(ctx, topic, payload)
}

// slowChannel delays every delivery so an echo is still queued when the
// publishing call returns.
type slowChannel struct {
	channel.Channel
	delay time.Duration
}

func (s slowChannel) Subscribe(ctx context.Context, topic string, handler channel.Handler) (channel.Subscription, error) {
	return s.Channel.Subscribe(ctx, topic, func(ctx context.Context, topic, payload string) {
		time.Sleep(s.delay)
		handler(ctx, topic, payload)
	})
}

// blackholeChannel accepts publishes and delivers nothing.
type blackholeChannel struct {
	channel.Channel
}

func (blackholeChannel) Publish(context.Context, string, string) error { return nil }
