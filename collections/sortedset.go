package collections

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ggoodman/redis-collections-go/channel"
	"github.com/ggoodman/redis-collections-go/notification"
	"github.com/ggoodman/redis-collections-go/store"
)

// DefaultTopN is how many entries a sorted-set view shows by default.
const DefaultTopN = 10

// Entry is one element of a collection view. Score and Rank are only
// meaningful for sorted sets; Rank is 1-based.
type Entry struct {
	Value string
	Score float64
	Rank  int
}

// String renders e the way sorted-set views display it.
func (e Entry) String() string {
	return fmt.Sprintf("%s at position %d, score %s", e.Value, e.Rank, strconv.FormatFloat(e.Score, 'g', -1, 64))
}

// SortedSet is a set of unique items ordered by ascending score, ties broken
// by item. Inserts never update the score of an existing item.
type SortedSet struct {
	*service
}

// NewSortedSet subscribes to the sorted-set topic and returns the service.
// The key defaults to DefaultSortedSetKey and the topic to
// DefaultSortedSetTopic.
func NewSortedSet(ctx context.Context, st store.Store, ch channel.Channel, opts ...Option) (*SortedSet, error) {
	svc, err := newService(ctx, "sortedset", st, ch, buildOptions(DefaultSortedSetKey, DefaultSortedSetTopic, opts))
	if err != nil {
		return nil, err
	}
	return &SortedSet{service: svc}, nil
}

// AddItem inserts item with score unless it is already present. It reports
// whether the insert happened; only an actual insert publishes an Added
// notification.
func (z *SortedSet) AddItem(ctx context.Context, item string, score float64) (bool, error) {
	done, err := z.begin()
	if err != nil {
		return false, err
	}
	defer done()

	ctx = z.logContext(ctx)

	inserted, err := z.store.SortedInsertIfAbsent(ctx, z.key, item, score)
	if err != nil {
		z.log.ErrorContext(ctx, "collection.add.fail", slog.String("item", item), slog.String("err", err.Error()))
		return false, err
	}
	if !inserted {
		z.log.InfoContext(ctx, "collection.add.duplicate", slog.String("item", item))
		return false, nil
	}

	z.publish(ctx, notification.ScoredAddedEvent(item, score))
	z.log.InfoContext(ctx, "collection.add.ok", slog.String("item", item), slog.Float64("score", score))
	return true, nil
}

// Delete removes the whole set and publishes a Deleted notification. It
// reports whether the key existed.
func (z *SortedSet) Delete(ctx context.Context) (bool, error) {
	done, err := z.begin()
	if err != nil {
		return false, err
	}
	defer done()

	ctx = z.logContext(ctx)

	existed, err := z.store.Delete(ctx, z.key)
	if err != nil {
		z.log.ErrorContext(ctx, "collection.delete.fail", slog.String("err", err.Error()))
		return false, err
	}

	z.publish(ctx, notification.DeletedEvent())
	z.log.InfoContext(ctx, "collection.delete.ok", slog.Bool("existed", existed))
	return existed, nil
}

// GetTopN returns at most n entries with the lowest scores, ascending.
func (z *SortedSet) GetTopN(ctx context.Context, n int) ([]Entry, error) {
	done, err := z.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if n <= 0 {
		return []Entry{}, nil
	}

	members, err := z.store.SortedRangeByRank(ctx, z.key, 0, int64(n-1))
	if err != nil {
		z.log.ErrorContext(z.logContext(ctx), "collection.read.fail", slog.String("err", err.Error()))
		return nil, err
	}

	entries := make([]Entry, len(members))
	for i, m := range members {
		entries[i] = Entry{Value: m.Member, Score: m.Score, Rank: i + 1}
	}
	return entries, nil
}

// GetTopTen is GetTopN with DefaultTopN.
func (z *SortedSet) GetTopTen(ctx context.Context) ([]Entry, error) {
	return z.GetTopN(ctx, DefaultTopN)
}

func (z *SortedSet) replicaSpec() replicaSpec {
	return replicaSpec{service: z.service, load: z.GetTopN, sorted: true}
}
