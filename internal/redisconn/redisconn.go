// Package redisconn builds the shared Redis client used by the store and
// channel implementations. Configuration is read from the environment with
// envdecode; defaults are provided via struct tags.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/redis-collections-go/store"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for connecting to Redis.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Password for AUTH, empty for none. ENV: REDIS_PASSWORD
	Password string `env:"REDIS_PASSWORD"`
	// DB selects the logical database. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// OperationTimeout bounds every store round-trip. ENV: COLLECTIONS_OP_TIMEOUT
	OperationTimeout time.Duration `env:"COLLECTIONS_OP_TIMEOUT,default=5s"`
	// KeyPrefix is prepended to collection keys and topics. Empty keeps the
	// legacy layout. ENV: COLLECTIONS_KEY_PREFIX
	KeyPrefix string `env:"COLLECTIONS_KEY_PREFIX"`
}

// FromEnv decodes a Config from the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode redis config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
	return c
}

// Dial creates a client and verifies the server answers. A failed ping is
// reported as store.ErrUnavailable and the client is closed.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	cl := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.OperationTimeout,
		WriteTimeout: cfg.OperationTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()
	if err := cl.Ping(pingCtx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", store.ErrUnavailable, cfg.Addr, err)
	}
	return cl, nil
}
