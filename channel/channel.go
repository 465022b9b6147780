// Package channel defines the non-durable publish/subscribe transport used to
// fan change notifications out to every currently connected listener.
//
// Delivery is at-most-once: a subscriber that is absent when a payload is
// published never sees it, and nothing is persisted. For a single subscriber,
// payloads on one topic arrive in publish order. Handlers run on a goroutine
// owned by the subscription, never on the publisher's goroutine.
package channel

import (
	"context"
	"errors"
)

// Handler receives one payload. It is called sequentially for a given
// subscription.
type Handler func(ctx context.Context, topic string, payload string)

// Channel is the publish/subscribe transport.
type Channel interface {
	// Subscribe registers handler for topic. The subscription is active when
	// Subscribe returns; payloads published afterwards are delivered until
	// Unsubscribe or Close.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Publish sends payload to every current subscriber of topic.
	Publish(ctx context.Context, topic string, payload string) error

	// Close tears down every subscription created through this channel.
	Close() error
}

// Subscription is a single active registration.
type Subscription interface {
	// Unsubscribe stops delivery and is idempotent. Once it returns no new
	// payload is handed to the handler; an invocation already running may
	// still complete. It is safe to call from inside the handler.
	Unsubscribe() error
}

var (
	// ErrClosed is returned by Subscribe and Publish once the channel is closed.
	ErrClosed = errors.New("channel: closed")
)
