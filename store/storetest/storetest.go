// Package storetest holds a conformance suite that every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ggoodman/redis-collections-go/store"
	"github.com/google/uuid"
)

// StoreFactory creates a new store instance for testing.
type StoreFactory func(t *testing.T) store.Store

// RunStoreTests runs the complete store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("PushRightPreservesFIFOOrder", func(t *testing.T) { testPushRightOrder(t, factory) })
	t.Run("PushLeftPreservesLIFOOrder", func(t *testing.T) { testPushLeftOrder(t, factory) })
	t.Run("PushReturnsLength", func(t *testing.T) { testPushReturnsLength(t, factory) })
	t.Run("PopLeftEmpty", func(t *testing.T) { testPopLeftEmpty(t, factory) })
	t.Run("PopLeftDrainsAndRemovesKey", func(t *testing.T) { testPopLeftDrains(t, factory) })
	t.Run("RangeBounds", func(t *testing.T) { testRangeBounds(t, factory) })
	t.Run("SortedInsertIfAbsent", func(t *testing.T) { testSortedInsertIfAbsent(t, factory) })
	t.Run("SortedRangeOrdersByScoreThenMember", func(t *testing.T) { testSortedRangeOrder(t, factory) })
	t.Run("DeleteAndExists", func(t *testing.T) { testDeleteAndExists(t, factory) })
	t.Run("WrongType", func(t *testing.T) { testWrongType(t, factory) })
}

func newKey(prefix string) string {
	return "storetest:" + prefix + ":" + uuid.NewString()
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func cleanupKey(t *testing.T, s store.Store, key string) {
	t.Cleanup(func() {
		_, _ = s.Delete(context.Background(), key)
	})
}

func testPushRightOrder(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)
	key := newKey("fifo")
	cleanupKey(t, s, key)

	for _, v := range []string{"a", "b", "c"} {
		if _, err := s.PushRight(ctx, key, v); err != nil {
			t.Fatalf("PushRight(%q): %v", v, err)
		}
	}

	got, err := s.Range(ctx, key, 0, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func testPushLeftOrder(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)
	key := newKey("lifo")
	cleanupKey(t, s, key)

	for _, v := range []string{"a", "b", "c"} {
		if _, err := s.PushLeft(ctx, key, v); err != nil {
			t.Fatalf("PushLeft(%q): %v", v, err)
		}
	}

	got, err := s.Range(ctx, key, 0, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if want := []string{"c", "b", "a"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func testPushReturnsLength(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)
	key := newKey("len")
	cleanupKey(t, s, key)

	for i := 1; i <= 4; i++ {
		var n int64
		var err error
		if i%2 == 0 {
			n, err = s.PushLeft(ctx, key, "x")
		} else {
			n, err = s.PushRight(ctx, key, "x")
		}
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		if n != int64(i) {
			t.Fatalf("expected length %d, got %d", i, n)
		}
	}
}

func testPopLeftEmpty(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	v, ok, err := s.PopLeft(ctx, newKey("missing"))
	if err != nil {
		t.Fatalf("PopLeft on missing key should not error: %v", err)
	}
	if ok || v != "" {
		t.Fatalf("expected empty sentinel, got %q ok=%v", v, ok)
	}
}

func testPopLeftDrains(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)
	key := newKey("drain")
	cleanupKey(t, s, key)

	if _, err := s.PushRight(ctx, key, "one"); err != nil {
		t.Fatalf("PushRight: %v", err)
	}
	if _, err := s.PushRight(ctx, key, "two"); err != nil {
		t.Fatalf("PushRight: %v", err)
	}

	for _, want := range []string{"one", "two"} {
		v, ok, err := s.PopLeft(ctx, key)
		if err != nil || !ok {
			t.Fatalf("PopLeft: v=%q ok=%v err=%v", v, ok, err)
		}
		if v != want {
			t.Fatalf("expected %q, got %q", want, v)
		}
	}

	exists, err := s.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("expected drained list key to be gone")
	}
}

func testRangeBounds(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)
	key := newKey("range")
	cleanupKey(t, s, key)

	for _, v := range []string{"a", "b", "c", "d"} {
		if _, err := s.PushRight(ctx, key, v); err != nil {
			t.Fatalf("PushRight: %v", err)
		}
	}

	tests := []struct {
		name        string
		start, stop int64
		want        []string
	}{
		{"all", 0, -1, []string{"a", "b", "c", "d"}},
		{"head", 0, 1, []string{"a", "b"}},
		{"tail", -2, -1, []string{"c", "d"}},
		{"clamped", 2, 100, []string{"c", "d"}},
		{"empty", 3, 1, []string{}},
		{"past end", 10, 20, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Range(ctx, key, tt.start, tt.stop)
			if err != nil {
				t.Fatalf("Range: %v", err)
			}
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func testSortedInsertIfAbsent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)
	key := newKey("zset")
	cleanupKey(t, s, key)

	ok, err := s.SortedInsertIfAbsent(ctx, key, "x", 10)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	ok, err = s.SortedInsertIfAbsent(ctx, key, "x", 99)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if ok {
		t.Fatal("expected duplicate insert to be rejected")
	}

	got, err := s.SortedRangeByRank(ctx, key, 0, -1)
	if err != nil {
		t.Fatalf("SortedRangeByRank: %v", err)
	}
	if want := []store.ScoredMember{{Member: "x", Score: 10}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func testSortedRangeOrder(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)
	key := newKey("zorder")
	cleanupKey(t, s, key)

	entries := []store.ScoredMember{
		{Member: "c", Score: 2},
		{Member: "a", Score: 3},
		{Member: "b", Score: 2},
		{Member: "d", Score: -1},
	}
	for _, e := range entries {
		if _, err := s.SortedInsertIfAbsent(ctx, key, e.Member, e.Score); err != nil {
			t.Fatalf("insert %q: %v", e.Member, err)
		}
	}

	got, err := s.SortedRangeByRank(ctx, key, 0, 2)
	if err != nil {
		t.Fatalf("SortedRangeByRank: %v", err)
	}
	want := []store.ScoredMember{
		{Member: "d", Score: -1},
		{Member: "b", Score: 2},
		{Member: "c", Score: 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func testDeleteAndExists(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)
	key := newKey("del")
	cleanupKey(t, s, key)

	if exists, err := s.Exists(ctx, key); err != nil || exists {
		t.Fatalf("expected fresh key to be absent: exists=%v err=%v", exists, err)
	}
	if deleted, err := s.Delete(ctx, key); err != nil || deleted {
		t.Fatalf("expected delete of absent key to report false: deleted=%v err=%v", deleted, err)
	}

	if _, err := s.SortedInsertIfAbsent(ctx, key, "m", 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if exists, err := s.Exists(ctx, key); err != nil || !exists {
		t.Fatalf("expected key to exist: exists=%v err=%v", exists, err)
	}
	if deleted, err := s.Delete(ctx, key); err != nil || !deleted {
		t.Fatalf("expected delete to report true: deleted=%v err=%v", deleted, err)
	}
	got, err := s.SortedRangeByRank(ctx, key, 0, 9)
	if err != nil {
		t.Fatalf("SortedRangeByRank: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty range after delete, got %v", got)
	}
}

func testWrongType(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)
	key := newKey("wrongtype")
	cleanupKey(t, s, key)

	if _, err := s.SortedInsertIfAbsent(ctx, key, "m", 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.PushRight(ctx, key, "v"); !errors.Is(err, store.ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}
