// Package store defines the remote collection store consumed by the
// collection services: list primitives for queues and stacks and
// insert-if-absent sorted-set primitives for scored collections.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Store is the authoritative backing store for every collection. All
// operations against a single key are serialized by the implementation.
type Store interface {
	// PushLeft prepends value to the list at key and returns the new length.
	PushLeft(ctx context.Context, key, value string) (int64, error)

	// PushRight appends value to the list at key and returns the new length.
	PushRight(ctx context.Context, key, value string) (int64, error)

	// PopLeft removes and returns the head of the list at key.
	// ok is false when the list is empty or missing; that is not an error.
	PopLeft(ctx context.Context, key string) (value string, ok bool, err error)

	// Range returns list elements between start and stop inclusive. Negative
	// indexes count from the tail, so Range(ctx, key, 0, -1) returns everything.
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Exists reports whether key holds any value.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// SortedInsertIfAbsent adds member with score unless member is already
	// present, in which case the stored score is left untouched and false is
	// returned.
	SortedInsertIfAbsent(ctx context.Context, key, member string, score float64) (bool, error)

	// SortedRangeByRank returns members ranked start..stop inclusive in
	// ascending score order; ties are ordered by member.
	SortedRangeByRank(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)

	// Close releases the connection held by the store.
	Close() error
}

// ScoredMember is one sorted-set entry.
type ScoredMember struct {
	Member string
	Score  float64
}

var (
	// ErrUnavailable wraps failures to reach the store, including timeouts.
	// Callers see it through errors.Is; operations are never retried.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrClosed is returned by operations on a closed store. It also matches
	// ErrUnavailable.
	ErrClosed = fmt.Errorf("%w: closed", ErrUnavailable)

	// ErrWrongType is returned when a key holds a value of another kind, for
	// example a list operation against a sorted set.
	ErrWrongType = errors.New("store: operation against a key holding the wrong kind of value")
)
