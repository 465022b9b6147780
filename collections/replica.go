package collections

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ggoodman/redis-collections-go/internal/logctx"
	"github.com/ggoodman/redis-collections-go/notification"
	"github.com/google/uuid"
)

// Source is a collection a Replica can mirror: *Queue, *Stack or *SortedSet.
type Source interface {
	replicaSpec() replicaSpec
}

// replicaSpec tells a Replica how to load and where to insert.
type replicaSpec struct {
	service  *service
	load     func(ctx context.Context, limit int) ([]Entry, error)
	insertAt end
	sorted   bool
}

// ReplicaState is the lifecycle position of a Replica.
type ReplicaState int

const (
	// ReplicaDetached is the initial state, before Attach completes.
	ReplicaDetached ReplicaState = iota
	// ReplicaAttaching means the bulk load is running.
	ReplicaAttaching
	// ReplicaLive means the mirror is loaded and notifications are applied.
	ReplicaLive
	// ReplicaClosed is terminal; reached through Detach.
	ReplicaClosed
)

func (s ReplicaState) String() string {
	switch s {
	case ReplicaAttaching:
		return "attaching"
	case ReplicaLive:
		return "live"
	case ReplicaClosed:
		return "closed"
	default:
		return "detached"
	}
}

// DefaultResyncTimeout bounds the reload triggered by an unclassifiable
// notification.
const DefaultResyncTimeout = 5 * time.Second

// ReplicaOption configures a Replica.
type ReplicaOption func(*Replica)

// WithTopN sets how many entries a sorted-set replica keeps. Ignored for
// queues and stacks, which always mirror the whole list.
func WithTopN(n int) ReplicaOption {
	return func(r *Replica) {
		if n > 0 {
			r.topN = n
		}
	}
}

// WithReplicaID overrides the generated replica id used in logs.
func WithReplicaID(id string) ReplicaOption {
	return func(r *Replica) { r.id = id }
}

// WithResyncTimeout bounds resync reloads.
func WithResyncTimeout(d time.Duration) ReplicaOption {
	return func(r *Replica) {
		if d > 0 {
			r.resyncTimeout = d
		}
	}
}

// Replica is one session's local mirror of a collection.
//
// The mirror matches the store right after Attach. Attach first waits for
// the echoes of the service's own earlier mutations, so those are never
// applied on top of a load that already holds them. Afterwards the mirror
// follows notifications: a lost notification, or one from another process
// published between the bulk load and the callback registration, leaves the
// mirror drifted until a new Replica is attached.
type Replica struct {
	id            string
	spec          replicaSpec
	topN          int
	resyncTimeout time.Duration
	log           *slog.Logger
	changes       changeNotifier

	mu      sync.Mutex
	state   ReplicaState
	mirror  []Entry
	handles []Handle
}

// NewReplica creates a detached replica of src.
func NewReplica(src Source, opts ...ReplicaOption) *Replica {
	spec := src.replicaSpec()
	r := &Replica{
		id:            uuid.NewString(),
		spec:          spec,
		topN:          DefaultTopN,
		resyncTimeout: DefaultResyncTimeout,
		log:           spec.service.log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the replica id.
func (r *Replica) ID() string { return r.id }

// State returns the current lifecycle state.
func (r *Replica) State() ReplicaState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Replica) logContext(ctx context.Context) context.Context {
	ctx = r.spec.service.logContext(ctx)
	return logctx.WithReplicaData(ctx, &logctx.ReplicaData{ReplicaID: r.id})
}

// Attach bulk-loads the collection and starts applying notifications. It
// fails with ErrAlreadyAttached on a second call and with ErrReplicaDetached
// if Detach ran first or ran while the load was in progress.
func (r *Replica) Attach(ctx context.Context) error {
	ctx = r.logContext(ctx)

	r.mu.Lock()
	switch r.state {
	case ReplicaClosed:
		r.mu.Unlock()
		return ErrReplicaDetached
	case ReplicaAttaching, ReplicaLive:
		r.mu.Unlock()
		return ErrAlreadyAttached
	}
	r.state = ReplicaAttaching
	r.mu.Unlock()

	err := r.spec.service.awaitEchoes(ctx)
	var entries []Entry
	if err == nil {
		entries, err = r.spec.load(ctx, r.topN)
	}
	if err != nil {
		r.mu.Lock()
		if r.state == ReplicaAttaching {
			r.state = ReplicaDetached
		}
		r.mu.Unlock()
		r.log.WarnContext(ctx, "replica.attach.fail", slog.String("err", err.Error()))
		return err
	}

	svc := r.spec.service
	handles := []Handle{
		svc.observers.add(groupAdded, r.applyAdded),
		svc.observers.add(groupRemoved, r.applyRemoved),
		svc.observers.add(groupDeleted, r.applyDeleted),
		svc.observers.add(groupResync, r.applyResync),
	}

	r.mu.Lock()
	if r.state != ReplicaAttaching {
		// Detach won the race.
		r.mu.Unlock()
		for _, h := range handles {
			svc.observers.remove(h)
		}
		return ErrReplicaDetached
	}
	r.mirror = rerank(entries)
	r.handles = handles
	r.state = ReplicaLive
	n := len(entries)
	r.mu.Unlock()

	r.log.InfoContext(ctx, "replica.attach.ok", slog.Int("items", n))
	r.changes.notify()
	return nil
}

// Detach stops applying notifications and discards the mirror. It is
// idempotent and safe at any point, including before or during Attach and
// while a mutation issued for this session is still in flight.
func (r *Replica) Detach() {
	r.mu.Lock()
	if r.state == ReplicaClosed {
		r.mu.Unlock()
		return
	}
	r.state = ReplicaClosed
	handles := r.handles
	r.handles = nil
	r.mirror = nil
	r.mu.Unlock()

	for _, h := range handles {
		r.spec.service.observers.remove(h)
	}
	r.changes.close()
	r.log.DebugContext(r.logContext(context.Background()), "replica.detach.ok")
}

// Items returns a copy of the mirrored values in display order.
func (r *Replica) Items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.mirror))
	for i, e := range r.mirror {
		out[i] = e.Value
	}
	return out
}

// Entries returns a copy of the mirror with scores and ranks.
func (r *Replica) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.mirror...)
}

// Changes returns a channel signalled after every change to the mirror. A
// burst of changes may be coalesced into one signal. The channel is closed by
// Detach.
func (r *Replica) Changes() <-chan struct{} {
	return r.changes.listen()
}

// update runs fn on the mirror if the replica is live and signals listeners.
func (r *Replica) update(fn func(mirror []Entry) []Entry) {
	r.mu.Lock()
	if r.state != ReplicaLive {
		r.mu.Unlock()
		return
	}
	r.mirror = rerank(fn(r.mirror))
	r.mu.Unlock()

	r.changes.notify()
}

func (r *Replica) applyAdded(e notification.Event) {
	if r.spec.sorted && e.Score == nil {
		// Without a score the position is unknown.
		r.applyResync(e)
		return
	}

	entry := Entry{Value: e.Item}
	r.update(func(mirror []Entry) []Entry {
		switch {
		case r.spec.sorted:
			for _, cur := range mirror {
				if cur.Value == entry.Value {
					return mirror
				}
			}
			entry.Score = *e.Score
			return insertSorted(mirror, entry, r.topN)
		case r.spec.insertAt == head:
			return append([]Entry{entry}, mirror...)
		default:
			return append(mirror, entry)
		}
	})
}

func (r *Replica) applyRemoved(e notification.Event) {
	r.update(func(mirror []Entry) []Entry {
		for i, cur := range mirror {
			if cur.Value == e.Item {
				return append(mirror[:i:i], mirror[i+1:]...)
			}
		}
		return mirror
	})
}

func (r *Replica) applyDeleted(notification.Event) {
	r.update(func([]Entry) []Entry { return nil })
}

// applyResync replaces the mirror with a fresh load.
func (r *Replica) applyResync(notification.Event) {
	if r.State() != ReplicaLive {
		return
	}

	ctx, cancel := context.WithTimeout(r.logContext(context.Background()), r.resyncTimeout)
	defer cancel()

	entries, err := r.spec.load(ctx, r.topN)
	if err != nil {
		r.log.WarnContext(ctx, "replica.resync.fail", slog.String("err", err.Error()))
		return
	}
	r.update(func([]Entry) []Entry { return entries })
	r.log.DebugContext(ctx, "replica.resync.ok", slog.Int("items", len(entries)))
}

// insertSorted places e by (score, value) and keeps at most limit entries.
func insertSorted(mirror []Entry, e Entry, limit int) []Entry {
	i := sort.Search(len(mirror), func(i int) bool {
		cur := mirror[i]
		if cur.Score != e.Score {
			return cur.Score > e.Score
		}
		return cur.Value > e.Value
	})
	out := make([]Entry, 0, len(mirror)+1)
	out = append(out, mirror[:i]...)
	out = append(out, e)
	out = append(out, mirror[i:]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func rerank(mirror []Entry) []Entry {
	for i := range mirror {
		mirror[i].Rank = i + 1
	}
	return mirror
}
