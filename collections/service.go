package collections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/redis-collections-go/channel"
	"github.com/ggoodman/redis-collections-go/internal/logctx"
	"github.com/ggoodman/redis-collections-go/notification"
	"github.com/ggoodman/redis-collections-go/store"
)

// service is the machinery shared by Queue, Stack and SortedSet: one store
// key, one topic subscription, the callback registry and the disposal state.
type service struct {
	kind      string
	key       string
	topic     string
	store     store.Store
	channel   channel.Channel
	codec     notification.Codec
	log       *slog.Logger
	observers *observers

	ownResources   bool
	publishTimeout time.Duration

	sub    channel.Subscription
	echoes echoTracker

	mu        sync.RWMutex
	disposed  bool
	inflight  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func newService(ctx context.Context, kind string, st store.Store, ch channel.Channel, o options) (*service, error) {
	if st == nil {
		return nil, fmt.Errorf("%s: store is required", kind)
	}
	if ch == nil {
		return nil, fmt.Errorf("%s: channel is required", kind)
	}

	s := &service{
		kind:           kind,
		key:            o.key,
		topic:          o.topic,
		store:          st,
		channel:        ch,
		codec:          o.codec,
		log:            logctx.Wrap(o.logger),
		observers:      newObservers(),
		ownResources:   o.ownResources,
		publishTimeout: o.publishTimeout,
	}

	ctx = s.logContext(ctx)
	sub, err := ch.Subscribe(ctx, s.topic, s.receive)
	if err != nil {
		return nil, fmt.Errorf("%s: subscribe to %s: %w", kind, s.topic, err)
	}
	s.sub = sub

	s.log.DebugContext(ctx, "collection.subscribe.ok")
	return s, nil
}

// Key returns the remote key backing the collection.
func (s *service) Key() string { return s.key }

// Topic returns the notification topic of the collection.
func (s *service) Topic() string { return s.topic }

func (s *service) logContext(ctx context.Context) context.Context {
	return logctx.WithCollectionData(ctx, &logctx.CollectionData{Kind: s.kind, Key: s.key, Topic: s.topic})
}

// begin admits an operation. The returned func must be called once the
// operation, publish included, is finished.
func (s *service) begin() (func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disposed {
		return nil, ErrServiceDisposed
	}
	s.inflight.Add(1)
	return s.inflight.Done, nil
}

// publish broadcasts e after a committed mutation. Failures are logged and
// swallowed since the store already holds the change. A channel that has been
// torn down makes this a silent no-op.
func (s *service) publish(ctx context.Context, e notification.Event) {
	payload := s.codec.Encode(e)

	// A caller that gives up after the store commit must not suppress the
	// notification, so only ctx values are kept.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	s.echoes.sent(payload)
	err := s.channel.Publish(pubCtx, s.topic, payload)
	if err != nil {
		s.echoes.settle(payload)
	}
	switch {
	case err == nil:
		s.log.DebugContext(ctx, "collection.publish.ok", slog.String("payload", payload))
	case errors.Is(err, channel.ErrClosed):
		s.log.DebugContext(ctx, "collection.publish.skip", slog.String("payload", payload), slog.String("reason", "channel closed"))
	default:
		s.log.WarnContext(ctx, "collection.publish.fail", slog.String("payload", payload), slog.String("err", err.Error()))
	}
}

// receive is the channel handler. It runs on the subscription goroutine.
func (s *service) receive(ctx context.Context, _ string, payload string) {
	e := s.codec.Decode(payload)
	s.log.DebugContext(ctx, "notification.received",
		slog.String("payload", payload),
		slog.String("kind", e.Kind.String()),
		slog.String("item", e.Item),
	)
	s.observers.dispatch(e)
	s.echoes.settle(payload)
}

// awaitEchoes waits until every payload this service published has come back
// through its own subscription and been dispatched. Echoes that do not arrive
// within the publish timeout are treated as lost.
func (s *service) awaitEchoes(ctx context.Context) error {
	ok, err := s.echoes.wait(ctx, s.publishTimeout)
	if err != nil {
		return err
	}
	if !ok {
		s.log.WarnContext(ctx, "collection.echo.timeout", slog.Duration("timeout", s.publishTimeout))
	}
	return nil
}

// Exists reports whether the collection's key exists in the store.
func (s *service) Exists(ctx context.Context) (bool, error) {
	done, err := s.begin()
	if err != nil {
		return false, err
	}
	defer done()

	ok, err := s.store.Exists(ctx, s.key)
	if err != nil {
		s.log.ErrorContext(s.logContext(ctx), "collection.exists.fail", slog.String("err", err.Error()))
		return false, err
	}
	return ok, nil
}

// OnChanged registers fn to run for every notification, whatever its kind.
func (s *service) OnChanged(fn func()) Handle {
	return s.observers.add(groupAny, func(notification.Event) { fn() })
}

// OnAdded registers fn to run with the item of every Added notification.
func (s *service) OnAdded(fn func(item string)) Handle {
	return s.observers.add(groupAdded, func(e notification.Event) { fn(e.Item) })
}

// OnRemoved registers fn to run with the item of every Removed notification.
func (s *service) OnRemoved(fn func(item string)) Handle {
	return s.observers.add(groupRemoved, func(e notification.Event) { fn(e.Item) })
}

// OnDeleted registers fn to run for every Deleted notification.
func (s *service) OnDeleted(fn func()) Handle {
	return s.observers.add(groupDeleted, func(notification.Event) { fn() })
}

// OnResync registers fn to run for notifications that could not be classified
// as Added, Removed or Deleted. Such a notification says the collection
// changed in a way that cannot be applied incrementally.
func (s *service) OnResync(fn func()) Handle {
	return s.observers.add(groupResync, func(notification.Event) { fn() })
}

// Unsubscribe removes the registration identified by h. It reports whether h
// was registered. Safe to call from inside a callback.
func (s *service) Unsubscribe(h Handle) bool {
	return s.observers.remove(h)
}

// Close unsubscribes from the topic, waits for in-flight operations and, with
// WithOwnedResources, closes the store and channel. Later calls return the
// first call's result. Every other method fails with ErrServiceDisposed
// afterwards; callbacks stay registered but no longer fire.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.disposed = true
		s.mu.Unlock()

		ctx := s.logContext(context.Background())

		var errs []error
		if err := s.sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", s.topic, err))
		}

		// In-flight mutations may still publish; other processes should learn
		// about changes that did reach the store.
		s.inflight.Wait()
		s.echoes.reset()

		if s.ownResources {
			if err := s.channel.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close channel: %w", err))
			}
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}

		s.closeErr = errors.Join(errs...)
		if s.closeErr != nil {
			s.log.WarnContext(ctx, "collection.close.fail", slog.String("err", s.closeErr.Error()))
		} else {
			s.log.DebugContext(ctx, "collection.close.ok")
		}
	})
	return s.closeErr
}
