package collections

import "sync"

// changeNotifier is a coalescing in-process signal. Each listener gets a
// channel with capacity 1, so a burst of changes wakes a slow listener once.
// It is how a Replica tells its UI that the mirror needs re-rendering.
type changeNotifier struct {
	mu        sync.RWMutex
	listeners []chan struct{}
	closed    bool
}

// notify signals every listener without blocking.
func (cn *changeNotifier) notify() {
	cn.mu.RLock()
	defer cn.mu.RUnlock()

	if cn.closed {
		return
	}
	for _, ch := range cn.listeners {
		select {
		case ch <- struct{}{}:
		default:
			// a signal is already pending
		}
	}
}

// listen returns a new signal channel. After close, the channel returned is
// already closed.
func (cn *changeNotifier) listen() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	ch := make(chan struct{}, 1)
	if cn.closed {
		close(ch)
		return ch
	}
	cn.listeners = append(cn.listeners, ch)
	return ch
}

// close closes every listener channel. Idempotent.
func (cn *changeNotifier) close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	listeners := cn.listeners
	cn.listeners = nil
	cn.mu.Unlock()

	for _, ch := range listeners {
		close(ch)
	}
}
