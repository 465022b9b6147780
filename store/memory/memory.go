// Package memory provides an in-process implementation of store.Store. Lists
// are plain slices and sorted sets are kept in a btree ordered by score then
// member, matching the ordering guarantees of the Redis implementation. It is
// suitable for single-process deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/redis-collections-go/store"
	"github.com/google/btree"
)

// Store implements store.Store in memory. A single mutex serializes every
// operation, which gives the per-key total order the services rely on.
type Store struct {
	mu     sync.Mutex
	keys   map[string]*value
	closed bool
}

// value is whatever a key currently holds: either a list or a sorted set.
type value struct {
	list   []string
	sorted *sortedSet
}

type sortedSet struct {
	index  *btree.BTreeG[store.ScoredMember]
	scores map[string]float64
}

func lessScored(a, b store.ScoredMember) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Member < b.Member
}

// New creates an empty memory store.
func New() *Store {
	return &Store{keys: make(map[string]*value)}
}

// PushLeft implements store.Store.PushLeft
func (s *Store) PushLeft(ctx context.Context, key, v string) (int64, error) {
	return s.push(ctx, key, v, true)
}

// PushRight implements store.Store.PushRight
func (s *Store) PushRight(ctx context.Context, key, v string) (int64, error) {
	return s.push(ctx, key, v, false)
}

func (s *Store) push(ctx context.Context, key, v string, left bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx); err != nil {
		return 0, err
	}

	val, ok := s.keys[key]
	if !ok {
		val = &value{}
		s.keys[key] = val
	}
	if val.sorted != nil {
		return 0, store.ErrWrongType
	}

	if left {
		val.list = append([]string{v}, val.list...)
	} else {
		val.list = append(val.list, v)
	}
	return int64(len(val.list)), nil
}

// PopLeft implements store.Store.PopLeft
func (s *Store) PopLeft(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx); err != nil {
		return "", false, err
	}

	val, ok := s.keys[key]
	if !ok {
		return "", false, nil
	}
	if val.sorted != nil {
		return "", false, store.ErrWrongType
	}

	head := val.list[0]
	val.list = val.list[1:]
	if len(val.list) == 0 {
		// Redis drops empty lists; mirror that so Exists agrees.
		delete(s.keys, key)
	}
	return head, true, nil
}

// Range implements store.Store.Range
func (s *Store) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx); err != nil {
		return nil, err
	}

	val, ok := s.keys[key]
	if !ok {
		return []string{}, nil
	}
	if val.sorted != nil {
		return nil, store.ErrWrongType
	}

	lo, hi, ok := normalizeRange(start, stop, int64(len(val.list)))
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, val.list[lo:hi+1])
	return out, nil
}

// Exists implements store.Store.Exists
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx); err != nil {
		return false, err
	}
	_, ok := s.keys[key]
	return ok, nil
}

// Delete implements store.Store.Delete
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx); err != nil {
		return false, err
	}
	_, ok := s.keys[key]
	delete(s.keys, key)
	return ok, nil
}

// SortedInsertIfAbsent implements store.Store.SortedInsertIfAbsent
func (s *Store) SortedInsertIfAbsent(ctx context.Context, key, member string, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx); err != nil {
		return false, err
	}

	val, ok := s.keys[key]
	if !ok {
		val = &value{sorted: &sortedSet{
			index:  btree.NewG(8, lessScored),
			scores: make(map[string]float64),
		}}
		s.keys[key] = val
	}
	if val.sorted == nil {
		return false, store.ErrWrongType
	}

	if _, exists := val.sorted.scores[member]; exists {
		return false, nil
	}
	val.sorted.scores[member] = score
	val.sorted.index.ReplaceOrInsert(store.ScoredMember{Member: member, Score: score})
	return true, nil
}

// SortedRangeByRank implements store.Store.SortedRangeByRank
func (s *Store) SortedRangeByRank(ctx context.Context, key string, start, stop int64) ([]store.ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx); err != nil {
		return nil, err
	}

	val, ok := s.keys[key]
	if !ok {
		return []store.ScoredMember{}, nil
	}
	if val.sorted == nil {
		return nil, store.ErrWrongType
	}

	lo, hi, ok := normalizeRange(start, stop, int64(val.sorted.index.Len()))
	if !ok {
		return []store.ScoredMember{}, nil
	}

	out := make([]store.ScoredMember, 0, hi-lo+1)
	var rank int64
	val.sorted.index.Ascend(func(m store.ScoredMember) bool {
		if rank > hi {
			return false
		}
		if rank >= lo {
			out = append(out, m)
		}
		rank++
		return true
	})
	return out, nil
}

// Close implements store.Store.Close. Further calls fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkLocked(ctx context.Context) error {
	if s.closed {
		return store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// normalizeRange applies Redis index semantics: negative indexes count from
// the end and out-of-range bounds are clamped.
func normalizeRange(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

// Compile-time interface check
var _ store.Store = (*Store)(nil)
