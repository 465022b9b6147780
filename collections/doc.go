// Package collections keeps many local views of three shared collections (a
// FIFO Queue, a LIFO Stack and a score-ordered SortedSet) consistent with a
// remote store and with each other.
//
// A collection service (Queue, Stack, SortedSet) owns one remote key and one
// notification topic. Every mutation is committed to the store first, then a
// notification describing it is published on the topic. Every service
// instance subscribed to the topic, including the one that published,
// decodes the payload and fires its registered callbacks. The originating
// process therefore learns about its own mutation through the same path as
// everyone else; there is no separate local-apply step.
//
// A Replica is one session's mirror of a collection. Attach bulk-loads the
// current contents and registers callbacks; every Added, Removed or Deleted
// notification is then applied incrementally. Detach unregisters exactly the
// callbacks Attach registered.
//
// Consistency is eventual and best-effort. The channel delivers at most once
// and only to connected subscribers, and mutation plus publish are not
// transactional, so a replica may drift until it is re-attached.
//
// Example:
//
//	st := memory.New()
//	ch := memchannel.New()
//	q, _ := collections.NewQueue(ctx, st, ch)
//	defer q.Close()
//
//	r := collections.NewReplica(q)
//	_ = r.Attach(ctx)
//	defer r.Detach()
//
//	_, _ = q.AddItem(ctx, "job-1")
//	<-r.Changes() // r.Items() now ends with "job-1"
package collections
