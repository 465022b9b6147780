package collections

import (
	"log/slog"
	"time"

	"github.com/ggoodman/redis-collections-go/notification"
)

// Keys and topics of the deployed system. They are part of the persisted
// layout and must not change without a migration.
const (
	DefaultQueueKey     = "QueueManagementDemoItems"
	DefaultStackKey     = "StackManagementDemoItems"
	DefaultSortedSetKey = "SortedSetDemoItems"

	DefaultQueueTopic     = "blazor:QueueManagementDemo"
	DefaultStackTopic     = "blazor:StackManagementDemo"
	DefaultSortedSetTopic = "blazor:SortedSetManagementDemo"
)

// DefaultPublishTimeout bounds the publish that follows a committed mutation.
const DefaultPublishTimeout = 5 * time.Second

// Option configures a collection service.
type Option func(*options)

type options struct {
	key            string
	topic          string
	keyPrefix      string
	codec          notification.Codec
	logger         *slog.Logger
	ownResources   bool
	publishTimeout time.Duration
}

// WithKey overrides the remote key.
func WithKey(key string) Option {
	return func(o *options) { o.key = key }
}

// WithTopic overrides the notification topic.
func WithTopic(topic string) Option {
	return func(o *options) { o.topic = topic }
}

// WithKeyPrefix prepends prefix to both the key and the topic. It is applied
// after WithKey and WithTopic.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

// WithCodec selects the notification wire format. The default is
// notification.LegacyCodec; every process sharing a topic must be able to
// decode what the others publish.
func WithCodec(c notification.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOwnedResources makes Close also close the store and channel passed to
// the constructor. Use it when the service is the only user of both.
func WithOwnedResources() Option {
	return func(o *options) { o.ownResources = true }
}

// WithPublishTimeout bounds the notification publish after a mutation.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) { o.publishTimeout = d }
}

func buildOptions(defaultKey, defaultTopic string, opts []Option) options {
	o := options{
		key:            defaultKey,
		topic:          defaultTopic,
		codec:          notification.LegacyCodec{},
		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.key = o.keyPrefix + o.key
	o.topic = o.keyPrefix + o.topic
	if o.codec == nil {
		o.codec = notification.LegacyCodec{}
	}
	if o.publishTimeout <= 0 {
		o.publishTimeout = DefaultPublishTimeout
	}
	return o
}
