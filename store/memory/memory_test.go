package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/redis-collections-go/store"
	"github.com/ggoodman/redis-collections-go/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestStore_ClosedFailsUnavailable(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := s.PushRight(context.Background(), "k", "v")
	if !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrClosed to match ErrUnavailable, got %v", err)
	}
}

func TestStore_CancelledContextFailsUnavailable(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Range(ctx, "k", 0, -1)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got %v", err)
	}
}

func TestNormalizeRange(t *testing.T) {
	tests := []struct {
		start, stop, n int64
		lo, hi         int64
		ok             bool
	}{
		{0, -1, 3, 0, 2, true},
		{-5, 1, 3, 0, 1, true},
		{1, 0, 3, 0, 0, false},
		{0, -1, 0, 0, 0, false},
		{2, 9, 3, 2, 2, true},
	}
	for _, tt := range tests {
		lo, hi, ok := normalizeRange(tt.start, tt.stop, tt.n)
		if ok != tt.ok || (ok && (lo != tt.lo || hi != tt.hi)) {
			t.Errorf("normalizeRange(%d, %d, %d) = (%d, %d, %v), want (%d, %d, %v)",
				tt.start, tt.stop, tt.n, lo, hi, ok, tt.lo, tt.hi, tt.ok)
		}
	}
}
