// Package redis provides a Redis-based implementation of the store.Store
// interface. Lists map onto LPUSH/RPUSH/LPOP/LRANGE and sorted sets onto
// ZADD NX and ZRANGE WITHSCORES.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/redis-collections-go/internal/redisconn"
	"github.com/ggoodman/redis-collections-go/store"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance.
	Client redis.UniversalClient

	// OperationTimeout bounds each round-trip. Zero means no extra bound
	// beyond the caller's context.
	OperationTimeout time.Duration
}

// Store implements the store.Store interface using Redis.
type Store struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// New creates a new Redis-based store instance.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Store{client: config.Client, timeout: config.OperationTimeout}, nil
}

// NewFromEnv dials Redis using redisconn.FromEnv and wraps the client. The
// returned store owns the client and closes it on Close.
func NewFromEnv(ctx context.Context) (*Store, error) {
	cfg, err := redisconn.FromEnv()
	if err != nil {
		return nil, err
	}
	cl, err := redisconn.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(Config{Client: cl, OperationTimeout: cfg.OperationTimeout})
}

// PushLeft implements store.Store.PushLeft
func (s *Store) PushLeft(ctx context.Context, key, value string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.LPush(ctx, key, value).Result()
	if err != nil {
		return 0, classify("lpush", key, err)
	}
	return n, nil
}

// PushRight implements store.Store.PushRight
func (s *Store) PushRight(ctx context.Context, key, value string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.RPush(ctx, key, value).Result()
	if err != nil {
		return 0, classify("rpush", key, err)
	}
	return n, nil
}

// PopLeft implements store.Store.PopLeft
func (s *Store) PopLeft(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	v, err := s.client.LPop(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, classify("lpop", key, err)
	}
	return v, true, nil
}

// Range implements store.Store.Range
func (s *Store) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	items, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, classify("lrange", key, err)
	}
	return items, nil
}

// Exists implements store.Store.Exists
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, classify("exists", key, err)
	}
	return n == 1, nil
}

// Delete implements store.Store.Delete
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, classify("del", key, err)
	}
	return n > 0, nil
}

// SortedInsertIfAbsent implements store.Store.SortedInsertIfAbsent
func (s *Store) SortedInsertIfAbsent(ctx context.Context, key, member string, score float64) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.ZAddNX(ctx, key, redis.Z{Score: score, Member: member}).Result()
	if err != nil {
		return false, classify("zadd", key, err)
	}
	return n == 1, nil
}

// SortedRangeByRank implements store.Store.SortedRangeByRank
func (s *Store) SortedRangeByRank(ctx context.Context, key string, start, stop int64) ([]store.ScoredMember, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	zs, err := s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, classify("zrange", key, err)
	}

	out := make([]store.ScoredMember, 0, len(zs))
	for _, z := range zs {
		// Members round-trip as strings; be lenient with other encodings.
		var member string
		switch m := z.Member.(type) {
		case string:
			member = m
		case []byte:
			member = string(m)
		default:
			member = fmt.Sprintf("%v", m)
		}
		out = append(out, store.ScoredMember{Member: member, Score: z.Score})
	}
	return out, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// classify maps a go-redis error onto the store error taxonomy. Anything that
// is not a protocol-level type error is treated as the store being
// unreachable.
func classify(op, key string, err error) error {
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return fmt.Errorf("%w: %s %s", store.ErrWrongType, op, key)
	}
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %s %s", store.ErrClosed, op, key)
	}
	return fmt.Errorf("%w: %s %s: %w", store.ErrUnavailable, op, key, err)
}

// Compile-time interface check
var _ store.Store = (*Store)(nil)
