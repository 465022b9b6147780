package collections

import (
	"context"
	"log/slog"

	"github.com/ggoodman/redis-collections-go/channel"
	"github.com/ggoodman/redis-collections-go/notification"
	"github.com/ggoodman/redis-collections-go/store"
)

// end names the list end a collection pushes onto. Pops always take the head.
type end int

const (
	head end = iota
	tail
)

// listService implements the operations Queue and Stack have in common.
type listService struct {
	*service
	pushEnd end
}

func newListService(ctx context.Context, kind string, pushEnd end, st store.Store, ch channel.Channel, o options) (listService, error) {
	svc, err := newService(ctx, kind, st, ch, o)
	if err != nil {
		return listService{}, err
	}
	return listService{service: svc, pushEnd: pushEnd}, nil
}

// AddItem pushes item and publishes an Added notification. It returns the
// collection length right after the push.
func (l listService) AddItem(ctx context.Context, item string) (int64, error) {
	done, err := l.begin()
	if err != nil {
		return 0, err
	}
	defer done()

	ctx = l.logContext(ctx)

	var n int64
	if l.pushEnd == tail {
		n, err = l.store.PushRight(ctx, l.key, item)
	} else {
		n, err = l.store.PushLeft(ctx, l.key, item)
	}
	if err != nil {
		l.log.ErrorContext(ctx, "collection.add.fail", slog.String("item", item), slog.String("err", err.Error()))
		return 0, err
	}

	l.publish(ctx, notification.AddedEvent(item))
	l.log.InfoContext(ctx, "collection.add.ok", slog.String("item", item), slog.Int64("len", n))
	return n, nil
}

// RemoveItem pops the head and publishes a Removed notification. An empty
// collection yields ("", false, nil) and publishes nothing.
func (l listService) RemoveItem(ctx context.Context) (string, bool, error) {
	done, err := l.begin()
	if err != nil {
		return "", false, err
	}
	defer done()

	ctx = l.logContext(ctx)

	item, ok, err := l.store.PopLeft(ctx, l.key)
	if err != nil {
		l.log.ErrorContext(ctx, "collection.remove.fail", slog.String("err", err.Error()))
		return "", false, err
	}
	if !ok {
		l.log.DebugContext(ctx, "collection.remove.empty")
		return "", false, nil
	}

	l.publish(ctx, notification.RemovedEvent(item))
	l.log.InfoContext(ctx, "collection.remove.ok", slog.String("item", item))
	return item, true, nil
}

// GetItems reads the whole collection from the store in store order.
func (l listService) GetItems(ctx context.Context) ([]string, error) {
	done, err := l.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	items, err := l.store.Range(ctx, l.key, 0, -1)
	if err != nil {
		l.log.ErrorContext(l.logContext(ctx), "collection.read.fail", slog.String("err", err.Error()))
		return nil, err
	}
	return items, nil
}

func (l listService) loadEntries(ctx context.Context, _ int) ([]Entry, error) {
	items, err := l.GetItems(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(items))
	for i, item := range items {
		entries[i] = Entry{Value: item}
	}
	return entries, nil
}

// Queue is a FIFO collection: AddItem appends at the tail, RemoveItem takes
// the head, GetItems returns oldest first.
type Queue struct {
	listService
}

// NewQueue subscribes to the queue topic and returns the service. The key
// defaults to DefaultQueueKey and the topic to DefaultQueueTopic.
func NewQueue(ctx context.Context, st store.Store, ch channel.Channel, opts ...Option) (*Queue, error) {
	ls, err := newListService(ctx, "queue", tail, st, ch, buildOptions(DefaultQueueKey, DefaultQueueTopic, opts))
	if err != nil {
		return nil, err
	}
	return &Queue{listService: ls}, nil
}

func (q *Queue) replicaSpec() replicaSpec {
	return replicaSpec{service: q.service, load: q.loadEntries, insertAt: tail}
}

// Stack is a LIFO collection: AddItem and RemoveItem both work on the head,
// GetItems returns the most recently added item first.
type Stack struct {
	listService
}

// NewStack subscribes to the stack topic and returns the service. The key
// defaults to DefaultStackKey and the topic to DefaultStackTopic.
func NewStack(ctx context.Context, st store.Store, ch channel.Channel, opts ...Option) (*Stack, error) {
	ls, err := newListService(ctx, "stack", head, st, ch, buildOptions(DefaultStackKey, DefaultStackTopic, opts))
	if err != nil {
		return nil, err
	}
	return &Stack{listService: ls}, nil
}

func (s *Stack) replicaSpec() replicaSpec {
	return replicaSpec{service: s.service, load: s.loadEntries, insertAt: head}
}
