package collections

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ggoodman/redis-collections-go/notification"
)

func TestReplica_SessionsConverge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Each session has its own service, as separate processes would.
	qa := h.queue(t)
	qb := h.queue(t)
	qc := h.queue(t)

	var seenOnC counter
	qc.OnChanged(func() { seenOnC.add("") })

	a := attach(t, qa)
	b := attach(t, qb)

	var addedOnB counter
	qb.OnAdded(addedOnB.add)

	if _, err := qa.AddItem(ctx, "x"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	waitFor(t, "Added(x) on B", func() bool { return reflect.DeepEqual(addedOnB.snapshot(), []string{"x"}) })
	waitForItems(t, b, []string{"x"})
	waitForItems(t, a, []string{"x"})

	waitFor(t, "notification on C", func() bool { return len(seenOnC.snapshot()) == 1 })
	c := attach(t, qc)
	if got := c.Items(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("late session: expected [x], got %v", got)
	}
}

func TestReplica_AppliesOwnChangeExactlyOnce(t *testing.T) {
	h := newHarness(t)
	q := h.queue(t)
	ctx := context.Background()

	r := attach(t, q)

	var added counter
	q.OnAdded(added.add)

	if _, err := q.AddItem(ctx, "x"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	waitForItems(t, r, []string{"x"})
	settle()
	if got := r.Items(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("expected the change applied once, got %v", got)
	}
	if got := added.snapshot(); len(got) != 1 {
		t.Fatalf("expected one Added callback, got %v", got)
	}
}

func TestReplica_AttachRightAfterOwnMutation(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		h := newHarness(t)
		q := h.queue(t)

		if _, err := q.AddItem(ctx, "x"); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
		r := attach(t, q)

		settle()
		if got := r.Items(); !reflect.DeepEqual(got, []string{"x"}) {
			t.Fatalf("run %d: expected [x], got %v", i, got)
		}
	}
}

func TestReplica_AttachWaitsForDelayedEcho(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := NewStack(ctx, h.store, slowChannel{Channel: h.channel, delay: 20 * time.Millisecond}, quiet(nil)...)
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for _, item := range []string{"a", "b"} {
		if _, err := s.AddItem(ctx, item); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}
	r := attach(t, s)
	if got := r.Items(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("expected [b a] right after Attach, got %v", got)
	}

	settle()
	if got := r.Items(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("echoes applied on top of the load: %v", got)
	}
}

func TestReplica_AttachGivesUpOnLostEcho(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q, err := NewQueue(ctx, h.store, blackholeChannel{Channel: h.channel}, quiet([]Option{WithPublishTimeout(50 * time.Millisecond)})...)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	if _, err := q.AddItem(ctx, "x"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	r := attach(t, q)
	if got := r.Items(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("expected [x], got %v", got)
	}

	// The lost echo is forgotten, so the next Attach does not wait again.
	start := time.Now()
	attach(t, q)
	if d := time.Since(start); d >= 50*time.Millisecond {
		t.Fatalf("second Attach waited %v", d)
	}
}

func TestReplica_AttachCancelledWhileWaitingForEcho(t *testing.T) {
	h := newHarness(t)

	q, err := NewQueue(context.Background(), h.store, blackholeChannel{Channel: h.channel}, quiet([]Option{WithPublishTimeout(time.Minute)})...)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	if _, err := q.AddItem(context.Background(), "x"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	r := NewReplica(q)
	if err := r.Attach(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if st := r.State(); st != ReplicaDetached {
		t.Fatalf("expected state detached after a failed Attach, got %v", st)
	}
}

func TestReplica_StackInsertsAtHead(t *testing.T) {
	h := newHarness(t)
	s := h.stack(t)
	ctx := context.Background()

	var seen counter
	s.OnChanged(func() { seen.add("") })

	if _, err := s.AddItem(ctx, "a"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	waitFor(t, "notification", func() bool { return len(seen.snapshot()) == 1 })
	r := attach(t, s)

	if _, err := s.AddItem(ctx, "b"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	waitForItems(t, r, []string{"b", "a"})

	item, ok, err := s.RemoveItem(ctx)
	if err != nil || !ok || item != "b" {
		t.Fatalf("RemoveItem: item=%q ok=%v err=%v", item, ok, err)
	}
	waitForItems(t, r, []string{"a"})

	stored, err := s.GetItems(ctx)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if !reflect.DeepEqual(stored, r.Items()) {
		t.Fatalf("mirror %v diverged from store %v", r.Items(), stored)
	}
}

func TestReplica_QueueRemovesHead(t *testing.T) {
	h := newHarness(t)
	q := h.queue(t)
	ctx := context.Background()

	r := attach(t, q)
	for _, item := range []string{"a", "b", "c"} {
		if _, err := q.AddItem(ctx, item); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}
	waitForItems(t, r, []string{"a", "b", "c"})

	if _, _, err := q.RemoveItem(ctx); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	waitForItems(t, r, []string{"b", "c"})
}

func TestReplica_WhitespaceItemsWithLegacyCodec(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	qa := h.queue(t)
	qb := h.queue(t)
	b := attach(t, qb)

	var addedOnB counter
	qb.OnAdded(addedOnB.add)

	if _, err := qa.AddItem(ctx, "p q"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	// The legacy wire form truncates at the first space.
	waitFor(t, "Added on B", func() bool { return len(addedOnB.snapshot()) == 1 })
	if got := addedOnB.snapshot(); got[0] != "p" {
		t.Fatalf("expected truncated item p, got %q", got[0])
	}
	waitForItems(t, b, []string{"p"})

	stored, err := qa.GetItems(ctx)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if !reflect.DeepEqual(stored, []string{"p q"}) {
		t.Fatalf("store must hold the full item, got %v", stored)
	}
}

func TestReplica_WhitespaceItemsWithJSONCodec(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	qa := h.queue(t, WithCodec(notification.JSONCodec{}))
	qb := h.queue(t, WithCodec(notification.JSONCodec{}))
	b := attach(t, qb)

	if _, err := qa.AddItem(ctx, "p q"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	waitForItems(t, b, []string{"p q"})
}

func TestReplica_SortedInsertWithScores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	z := h.sortedSet(t, WithCodec(notification.JSONCodec{}))
	if _, err := z.AddItem(ctx, "b", 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := z.AddItem(ctx, "d", 4); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	r := attach(t, z, WithTopN(3))
	waitForItems(t, r, []string{"b", "d"})

	for item, score := range map[string]float64{"a": 1, "c": 3} {
		if _, err := z.AddItem(ctx, item, score); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}
	waitForItems(t, r, []string{"a", "b", "c"})

	for i, e := range r.Entries() {
		if e.Rank != i+1 || e.Score != float64(i+1) {
			t.Fatalf("entry %d: unexpected %+v", i, e)
		}
	}
}

func TestReplica_SortedIgnoresKnownMember(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	z := h.sortedSet(t, WithCodec(notification.JSONCodec{}))
	if _, err := z.AddItem(ctx, "x", 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	// The notification for x may arrive after the bulk load already saw x.
	r := attach(t, z)
	r.applyAdded(notification.ScoredAddedEvent("x", 1))
	waitForItems(t, r, []string{"x"})
	settle()
	if got := r.Items(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("expected x once, got %v", got)
	}
}

func TestReplica_SortedResyncsWithLegacyCodec(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	z := h.sortedSet(t)
	r := attach(t, z)

	if _, err := z.AddItem(ctx, "late", 9); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := z.AddItem(ctx, "early", 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	// Legacy notifications carry no score, so the replica reloads.
	waitForItems(t, r, []string{"early", "late"})
	if got := r.Entries()[1].Score; got != 9 {
		t.Fatalf("expected reloaded score 9, got %v", got)
	}
}

func TestReplica_DeleteClearsMirror(t *testing.T) {
	for name, codec := range map[string]notification.Codec{
		"legacy": notification.LegacyCodec{},
		"json":   notification.JSONCodec{},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			z := h.sortedSet(t, WithCodec(codec))
			if _, err := z.AddItem(ctx, "x", 1); err != nil {
				t.Fatalf("AddItem: %v", err)
			}
			r := attach(t, z)
			waitForItems(t, r, []string{"x"})

			if _, err := z.Delete(ctx); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			waitForItems(t, r, []string{})
		})
	}
}

func TestReplica_ChangesSignalled(t *testing.T) {
	h := newHarness(t)
	q := h.queue(t)

	r := NewReplica(q)
	changes := r.Changes()
	if err := r.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatalf("expected a signal after Attach")
	}

	if _, err := q.AddItem(context.Background(), "x"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a signal after AddItem")
	}

	r.Detach()
	select {
	case _, ok := <-changes:
		if ok {
			// A pending signal may precede the close.
			if _, ok := <-changes; ok {
				t.Fatalf("expected channel to be closed after Detach")
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("expected channel to be closed after Detach")
	}

	if _, ok := <-r.Changes(); ok {
		t.Fatalf("listening after Detach should yield a closed channel")
	}
}

func TestReplica_Lifecycle(t *testing.T) {
	h := newHarness(t)
	q := h.queue(t)
	ctx := context.Background()

	r := NewReplica(q, WithReplicaID("session-1"))
	if r.ID() != "session-1" {
		t.Fatalf("unexpected id %q", r.ID())
	}
	if r.State() != ReplicaDetached {
		t.Fatalf("expected detached, got %s", r.State())
	}

	if err := r.Attach(ctx); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if r.State() != ReplicaLive {
		t.Fatalf("expected live, got %s", r.State())
	}
	if err := r.Attach(ctx); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
	if n := q.observers.count(); n != 4 {
		t.Fatalf("expected 4 registrations, got %d", n)
	}

	r.Detach()
	r.Detach()
	if r.State() != ReplicaClosed {
		t.Fatalf("expected closed, got %s", r.State())
	}
	if n := q.observers.count(); n != 0 {
		t.Fatalf("expected registrations to be removed, got %d", n)
	}
	if err := r.Attach(ctx); !errors.Is(err, ErrReplicaDetached) {
		t.Fatalf("expected ErrReplicaDetached, got %v", err)
	}
}

func TestReplica_DetachBeforeAttach(t *testing.T) {
	h := newHarness(t)
	q := h.queue(t)

	r := NewReplica(q)
	r.Detach()
	if err := r.Attach(context.Background()); !errors.Is(err, ErrReplicaDetached) {
		t.Fatalf("expected ErrReplicaDetached, got %v", err)
	}
	if n := q.observers.count(); n != 0 {
		t.Fatalf("expected no registrations, got %d", n)
	}
}

func TestReplica_IgnoresChangesAfterDetach(t *testing.T) {
	h := newHarness(t)
	q := h.queue(t)
	ctx := context.Background()

	r := attach(t, q)
	r.Detach()

	if _, err := q.AddItem(ctx, "x"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	settle()
	if got := r.Items(); len(got) != 0 {
		t.Fatalf("detached replica must not change, got %v", got)
	}
}

func TestReplica_DetachWhileMutationPending(t *testing.T) {
	h := newHarness(t)
	gated := newGatedStore(h.store)
	ctx := context.Background()

	q, err := NewQueue(ctx, gated, h.channel, quiet(nil)...)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	r := attach(t, q)

	errc := make(chan error, 1)
	go func() {
		_, err := q.AddItem(ctx, "x")
		errc <- err
	}()

	<-gated.entered
	r.Detach()
	close(gated.release)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("AddItem after Detach: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("AddItem did not return")
	}

	settle()
	if got := r.Items(); len(got) != 0 {
		t.Fatalf("detached replica must not change, got %v", got)
	}
	stored, err := q.GetItems(ctx)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if !reflect.DeepEqual(stored, []string{"x"}) {
		t.Fatalf("expected the mutation to commit, got %v", stored)
	}
}

func TestReplica_AttachFailsWhenStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	q := h.queue(t)
	_ = h.store.Close()

	r := NewReplica(q)
	if err := r.Attach(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if r.State() != ReplicaDetached {
		t.Fatalf("expected detached after failed attach, got %s", r.State())
	}
	if n := q.observers.count(); n != 0 {
		t.Fatalf("failed attach must not register, got %d", n)
	}
}

func TestInsertSorted(t *testing.T) {
	mirror := []Entry{{Value: "a", Score: 1}, {Value: "c", Score: 3}}

	got := insertSorted(mirror, Entry{Value: "b", Score: 2}, 10)
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(values(got), want) {
		t.Fatalf("expected %v, got %v", want, values(got))
	}

	got = insertSorted(mirror, Entry{Value: "z", Score: 9}, 2)
	if want := []string{"a", "c"}; !reflect.DeepEqual(values(got), want) {
		t.Fatalf("insert past the limit: expected %v, got %v", want, values(got))
	}

	got = insertSorted(mirror, Entry{Value: "b", Score: 1}, 10)
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(values(got), want) {
		t.Fatalf("tie broken by value: expected %v, got %v", want, values(got))
	}
}

func values(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}
