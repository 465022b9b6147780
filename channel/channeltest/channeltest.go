// Package channeltest holds a conformance suite for channel.Channel
// implementations.
package channeltest

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/redis-collections-go/channel"
	"github.com/google/uuid"
)

// ChannelFactory creates a new channel instance for testing.
type ChannelFactory func(t *testing.T) channel.Channel

// RunChannelTests runs the complete channel test suite against the provided factory.
func RunChannelTests(t *testing.T, factory ChannelFactory) {
	t.Run("FanOut_AllSubscribersReceive", func(t *testing.T) { testFanOut(t, factory) })
	t.Run("PublishOrderPreserved", func(t *testing.T) { testPublishOrder(t, factory) })
	t.Run("TopicIsolation", func(t *testing.T) { testTopicIsolation(t, factory) })
	t.Run("LateSubscriberMissesEarlierPayloads", func(t *testing.T) { testLateSubscriber(t, factory) })
	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) { testUnsubscribe(t, factory) })
	t.Run("UnsubscribeFromHandler", func(t *testing.T) { testUnsubscribeFromHandler(t, factory) })
	t.Run("CloseStopsEverything", func(t *testing.T) { testClose(t, factory) })
}

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) handle(_ context.Context, _ string, payload string) {
	r.mu.Lock()
	r.got = append(r.got, payload)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
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

func newTopic() string {
	return "channeltest:" + uuid.NewString()
}

func testFanOut(t *testing.T, factory ChannelFactory) {
	c := factory(t)
	ctx := context.Background()
	topic := newTopic()

	var r1, r2 recorder
	s1, err := c.Subscribe(ctx, topic, r1.handle)
	if err != nil {
		t.Fatalf("subscribe 1: %v", err)
	}
	defer s1.Unsubscribe()
	s2, err := c.Subscribe(ctx, topic, r2.handle)
	if err != nil {
		t.Fatalf("subscribe 2: %v", err)
	}
	defer s2.Unsubscribe()

	if err := c.Publish(ctx, topic, "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, "both subscribers", func() bool {
		return len(r1.snapshot()) == 1 && len(r2.snapshot()) == 1
	})
	if got := r1.snapshot(); got[0] != "hello" {
		t.Fatalf("expected hello, got %q", got[0])
	}
}

func testPublishOrder(t *testing.T, factory ChannelFactory) {
	c := factory(t)
	ctx := context.Background()
	topic := newTopic()

	var r recorder
	sub, err := c.Subscribe(ctx, topic, r.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	want := []string{"1", "2", "3", "4", "5"}
	for _, p := range want {
		if err := c.Publish(ctx, topic, p); err != nil {
			t.Fatalf("publish %s: %v", p, err)
		}
	}

	waitFor(t, "all payloads", func() bool { return len(r.snapshot()) == len(want) })
	if got := r.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func testTopicIsolation(t *testing.T, factory ChannelFactory) {
	c := factory(t)
	ctx := context.Background()
	a, b := newTopic(), newTopic()

	var ra, rb recorder
	sa, err := c.Subscribe(ctx, a, ra.handle)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer sa.Unsubscribe()
	sb, err := c.Subscribe(ctx, b, rb.handle)
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer sb.Unsubscribe()

	if err := c.Publish(ctx, a, "for-a"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "topic a", func() bool { return len(ra.snapshot()) == 1 })

	time.Sleep(50 * time.Millisecond)
	if got := rb.snapshot(); len(got) != 0 {
		t.Fatalf("topic b should not see topic a payloads, got %v", got)
	}
}

func testLateSubscriber(t *testing.T, factory ChannelFactory) {
	c := factory(t)
	ctx := context.Background()
	topic := newTopic()

	if err := c.Publish(ctx, topic, "early"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var r recorder
	sub, err := c.Subscribe(ctx, topic, r.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := c.Publish(ctx, topic, "late"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "late payload", func() bool { return len(r.snapshot()) >= 1 })

	if got := r.snapshot(); !reflect.DeepEqual(got, []string{"late"}) {
		t.Fatalf("expected only the late payload, got %v", got)
	}
}

func testUnsubscribe(t *testing.T, factory ChannelFactory) {
	c := factory(t)
	ctx := context.Background()
	topic := newTopic()

	var r recorder
	sub, err := c.Subscribe(ctx, topic, r.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Publish(ctx, topic, "before"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "first payload", func() bool { return len(r.snapshot()) == 1 })

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe should be a no-op: %v", err)
	}

	if err := c.Publish(ctx, topic, "after"); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := r.snapshot(); !reflect.DeepEqual(got, []string{"before"}) {
		t.Fatalf("expected no delivery after unsubscribe, got %v", got)
	}
}

func testUnsubscribeFromHandler(t *testing.T, factory ChannelFactory) {
	c := factory(t)
	ctx := context.Background()
	topic := newTopic()

	var sub channel.Subscription
	var mu sync.Mutex
	calls := 0
	ready := make(chan struct{})
	done := make(chan struct{})

	s, err := c.Subscribe(ctx, topic, func(context.Context, string, string) {
		<-ready
		mu.Lock()
		calls++
		mu.Unlock()
		_ = sub.Unsubscribe()
		close(done)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub = s
	close(ready)

	if err := c.Publish(ctx, topic, "x"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}

	_ = c.Publish(ctx, topic, "y")
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func testClose(t *testing.T, factory ChannelFactory) {
	c := factory(t)
	ctx := context.Background()
	topic := newTopic()

	var r recorder
	if _, err := c.Subscribe(ctx, topic, r.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := c.Publish(ctx, topic, "x"); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected ErrClosed from publish, got %v", err)
	}
	if _, err := c.Subscribe(ctx, topic, r.handle); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected ErrClosed from subscribe, got %v", err)
	}
}
