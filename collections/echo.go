package collections

import (
	"context"
	"sync"
	"time"
)

// echoTracker counts payloads a service has published but not yet received
// back on its own subscription. A Replica waits for the count to drain before
// it loads, so a change already in the store is not applied a second time
// when its echo arrives.
type echoTracker struct {
	mu      sync.Mutex
	pending map[string]int
	n       int
	drained chan struct{} // nil while nothing is pending
}

// sent records payload before it is handed to the channel.
func (t *echoTracker) sent(payload string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		t.pending = make(map[string]int)
	}
	if t.n == 0 {
		t.drained = make(chan struct{})
	}
	t.pending[payload]++
	t.n++
}

// settle releases one pending payload. It is a no-op for payloads this
// service never published.
func (t *echoTracker) settle(payload string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.pending[payload]
	if c == 0 {
		return
	}
	if c == 1 {
		delete(t.pending, payload)
	} else {
		t.pending[payload] = c - 1
	}
	t.n--
	if t.n == 0 {
		close(t.drained)
		t.drained = nil
	}
}

// reset forgets every pending payload and wakes waiters.
func (t *echoTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.pending)
	t.n = 0
	if t.drained != nil {
		close(t.drained)
		t.drained = nil
	}
}

// wait blocks until nothing is pending. It reports false when timeout passes
// first; the pending set is then dropped since those echoes are presumed
// lost. It returns ctx.Err() if ctx ends first.
func (t *echoTracker) wait(ctx context.Context, timeout time.Duration) (bool, error) {
	t.mu.Lock()
	ch := t.drained
	t.mu.Unlock()
	if ch == nil {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		t.reset()
		return false, nil
	}
}
