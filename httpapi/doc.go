// Package httpapi exposes collection services over HTTP.
//
// Every configured collection gets a small REST surface plus a live view:
//
//	GET    /queue           list items, oldest first
//	POST   /queue           enqueue an item; 201 with the item
//	GET    /queue/next      dequeue the head; 204 when empty
//	GET    /queue/events    text/event-stream of the mirrored queue
//
// /stack has the same routes. /sortedset lists the top entries
// (GET /sortedset?n=), inserts with POST /sortedset?score= and is removed
// with DELETE /sortedset.
//
// POST bodies are optional. With Content-Type application/json the body is
// {"item":"..."}; without a body, or with an empty item, a random UUID is
// generated.
//
// The events endpoint attaches a collections.Replica for the lifetime of the
// request and writes the whole mirror as one SSE event after every change,
// so a browser can render it without any other call:
//
//	q, _ := collections.NewQueue(ctx, st, ch)
//	h, _ := httpapi.New(httpapi.WithQueue(q))
//	http.ListenAndServe(":8080", h)
package httpapi
