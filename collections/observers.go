package collections

import (
	"sync"
	"sync/atomic"

	"github.com/ggoodman/redis-collections-go/notification"
)

// Handle identifies one callback registration. It is returned by the On*
// methods and passed back to Unsubscribe. The zero Handle never matches.
type Handle struct {
	id uint64
}

// Valid reports whether h came from a successful registration.
func (h Handle) Valid() bool { return h.id != 0 }

// group is a callback list. groupAny fires for every event; the others fire
// only for their matching kind.
type group int

const (
	groupAny group = iota
	groupAdded
	groupRemoved
	groupDeleted
	groupResync
)

func groupFor(k notification.Kind) group {
	switch k {
	case notification.Added:
		return groupAdded
	case notification.Removed:
		return groupRemoved
	case notification.Deleted:
		return groupDeleted
	default:
		return groupResync
	}
}

type observer struct {
	id      uint64
	group   group
	fn      func(notification.Event)
	removed atomic.Bool
}

// observers is an ordered callback registry keyed by group.
type observers struct {
	mu     sync.Mutex
	nextID uint64
	groups map[group][]*observer
	byID   map[uint64]*observer
}

func newObservers() *observers {
	return &observers{
		groups: make(map[group][]*observer),
		byID:   make(map[uint64]*observer),
	}
}

func (o *observers) add(g group, fn func(notification.Event)) Handle {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	ob := &observer{id: o.nextID, group: g, fn: fn}
	o.groups[g] = append(o.groups[g], ob)
	o.byID[ob.id] = ob
	return Handle{id: ob.id}
}

func (o *observers) remove(h Handle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	ob, ok := o.byID[h.id]
	if !ok {
		return false
	}
	delete(o.byID, h.id)
	ob.removed.Store(true)

	list := o.groups[ob.group]
	next := make([]*observer, 0, len(list))
	for _, cur := range list {
		if cur != ob {
			next = append(next, cur)
		}
	}
	o.groups[ob.group] = next
	return true
}

func (o *observers) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byID)
}

// dispatch invokes the any-group and then the kind-specific group, each in
// registration order. The lists are snapshotted first so callbacks may
// register or unregister freely; an observer removed mid-dispatch is skipped.
// Panics propagate to the caller.
func (o *observers) dispatch(e notification.Event) {
	o.mu.Lock()
	anyGroup := append([]*observer(nil), o.groups[groupAny]...)
	kindGroup := append([]*observer(nil), o.groups[groupFor(e.Kind)]...)
	o.mu.Unlock()

	for _, ob := range anyGroup {
		if !ob.removed.Load() {
			ob.fn(e)
		}
	}
	for _, ob := range kindGroup {
		if !ob.removed.Load() {
			ob.fn(e)
		}
	}
}
