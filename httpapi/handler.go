package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/redis-collections-go/collections"
	"github.com/ggoodman/redis-collections-go/internal/logctx"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 64 << 10

// writeJSONError emits {"error":{"code":<status>,"message":"<reason>"}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Option configures the Handler.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	queue     *collections.Queue
	stack     *collections.Stack
	sortedSet *collections.SortedSet
	newItem   func() string
	topN      int
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithQueue mounts q under /queue.
func WithQueue(q *collections.Queue) Option {
	return func(c *config) { c.queue = q }
}

// WithStack mounts s under /stack.
func WithStack(s *collections.Stack) Option {
	return func(c *config) { c.stack = s }
}

// WithSortedSet mounts z under /sortedset.
func WithSortedSet(z *collections.SortedSet) Option {
	return func(c *config) { c.sortedSet = z }
}

// WithItemGenerator replaces the UUID generator used for POSTs without a
// body.
func WithItemGenerator(fn func() string) Option {
	return func(c *config) {
		if fn != nil {
			c.newItem = fn
		}
	}
}

// WithTopN sets the default number of sorted-set entries returned by
// GET /sortedset and mirrored by /sortedset/events.
func WithTopN(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.topN = n
		}
	}
}

// Handler serves the collection routes.
type Handler struct {
	log       *slog.Logger
	mux       *http.ServeMux
	queue     *collections.Queue
	stack     *collections.Stack
	sortedSet *collections.SortedSet
	newItem   func() string
	topN      int
}

// New builds a Handler. At least one collection must be mounted.
func New(opts ...Option) (*Handler, error) {
	cfg := &config{
		logger:  slog.Default(),
		newItem: uuid.NewString,
		topN:    collections.DefaultTopN,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.queue == nil && cfg.stack == nil && cfg.sortedSet == nil {
		return nil, fmt.Errorf("at least one collection is required")
	}

	h := &Handler{
		log:       logctx.Wrap(cfg.logger),
		queue:     cfg.queue,
		stack:     cfg.stack,
		sortedSet: cfg.sortedSet,
		newItem:   cfg.newItem,
		topN:      cfg.topN,
	}

	mux := http.NewServeMux()
	if h.queue != nil {
		h.mountList(mux, "/queue", h.queue, h.queue)
	}
	if h.stack != nil {
		h.mountList(mux, "/stack", h.stack, h.stack)
	}
	if h.sortedSet != nil {
		mux.HandleFunc("GET /sortedset", h.handleGetSortedSet)
		mux.HandleFunc("POST /sortedset", h.handlePostSortedSet)
		mux.HandleFunc("DELETE /sortedset", h.handleDeleteSortedSet)
		mux.HandleFunc("GET /sortedset/events", h.handleEvents(h.sortedSet, true))
	}
	h.mux = mux

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})))
}

// list is the part of Queue and Stack the routes need.
type list interface {
	AddItem(ctx context.Context, item string) (int64, error)
	RemoveItem(ctx context.Context) (string, bool, error)
	GetItems(ctx context.Context) ([]string, error)
}

func (h *Handler) mountList(mux *http.ServeMux, base string, l list, src collections.Source) {
	mux.HandleFunc("GET "+base, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		items, err := l.GetItems(ctx)
		if err != nil {
			h.writeServiceError(ctx, w, "http.list.fail", err)
			return
		}
		if items == nil {
			items = []string{}
		}
		writeJSON(w, http.StatusOK, items)
	})

	mux.HandleFunc("POST "+base, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		item, ok := h.readItem(w, r)
		if !ok {
			return
		}
		if _, err := l.AddItem(ctx, item); err != nil {
			h.writeServiceError(ctx, w, "http.add.fail", err)
			return
		}
		h.log.InfoContext(ctx, "http.add.ok", slog.String("item", item))
		writeJSON(w, http.StatusCreated, item)
	})

	mux.HandleFunc("GET "+base+"/next", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		item, ok, err := l.RemoveItem(ctx)
		if err != nil {
			h.writeServiceError(ctx, w, "http.remove.fail", err)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.log.InfoContext(ctx, "http.remove.ok", slog.String("item", item))
		writeJSON(w, http.StatusOK, item)
	})

	mux.HandleFunc("GET "+base+"/events", h.handleEvents(src, false))
}

type addRequest struct {
	Item string `json:"item"`
}

// readItem returns the item named by the request body, or a generated one
// when the body is absent or empty. On failure it has already written the response.
func (h *Handler) readItem(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()

	if r.Header.Get("Content-Type") == "" {
		return h.newItem(), true
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.content_type.unsupported")
		return "", false
	}

	var req addRequest
	err = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if errors.Is(err, io.EOF) {
		return h.newItem(), true
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "http.body.invalid", slog.String("err", err.Error()))
		return "", false
	}
	if req.Item == "" {
		return h.newItem(), true
	}
	return req.Item, true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, collections.ErrServiceDisposed), errors.Is(err, collections.ErrStoreUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		h.log.WarnContext(ctx, event, slog.String("err", err.Error()))
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		h.log.ErrorContext(ctx, event, slog.String("err", err.Error()))
	}
}

// entryView is the JSON shape of a sorted-set entry.
type entryView struct {
	Item    string  `json:"item"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
	Display string  `json:"display"`
}

func entryViews(entries []collections.Entry) []entryView {
	out := make([]entryView, len(entries))
	for i, e := range entries {
		out[i] = entryView{Item: e.Value, Score: e.Score, Rank: e.Rank, Display: e.String()}
	}
	return out
}

func (h *Handler) handleGetSortedSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	n := h.topN
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeJSONError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = v
	}

	entries, err := h.sortedSet.GetTopN(ctx, n)
	if err != nil {
		h.writeServiceError(ctx, w, "http.list.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, entryViews(entries))
}

type sortedAddResponse struct {
	Item     string  `json:"item"`
	Score    float64 `json:"score"`
	Inserted bool    `json:"inserted"`
}

func (h *Handler) handlePostSortedSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := r.URL.Query().Get("score")
	if raw == "" {
		writeJSONError(w, http.StatusBadRequest, "score is required")
		return
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "score must be a number")
		return
	}

	item, ok := h.readItem(w, r)
	if !ok {
		return
	}

	inserted, err := h.sortedSet.AddItem(ctx, item, score)
	if err != nil {
		h.writeServiceError(ctx, w, "http.add.fail", err)
		return
	}

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	h.log.InfoContext(ctx, "http.add.ok", slog.String("item", item), slog.Bool("inserted", inserted))
	writeJSON(w, status, sortedAddResponse{Item: item, Score: score, Inserted: inserted})
}

func (h *Handler) handleDeleteSortedSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	existed, err := h.sortedSet.Delete(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "http.delete.fail", err)
		return
	}
	h.log.InfoContext(ctx, "http.delete.ok", slog.Bool("existed", existed))
	writeJSON(w, http.StatusOK, map[string]bool{"existed": existed})
}

// handleEvents streams the mirror of src as server-sent events. The first
// event is the state right after attaching.
func (h *Handler) handleEvents(src collections.Source, sorted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "expected Accept: text/event-stream")
			h.log.WarnContext(ctx, "http.events.not_acceptable")
			return
		}

		f, ok := w.(http.Flusher)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			h.log.ErrorContext(ctx, "sse.flusher.missing")
			return
		}

		replica := collections.NewReplica(src, collections.WithTopN(h.topN))
		defer replica.Detach()

		changes := replica.Changes()
		if err := replica.Attach(ctx); err != nil {
			h.writeServiceError(ctx, w, "replica.attach.fail", err)
			return
		}
		ctx = logctx.WithReplicaData(ctx, &logctx.ReplicaData{ReplicaID: replica.ID()})

		w.Header().Set("Content-Type", eventStreamMediaType.String())
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		f.Flush()

		h.log.InfoContext(ctx, "sse.stream.start")

		var seq int
		for {
			select {
			case <-ctx.Done():
				h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
				return
			case _, ok := <-changes:
				if !ok {
					h.log.InfoContext(ctx, "sse.stream.detached")
					return
				}
			}

			payload, err := snapshot(replica, sorted)
			if err != nil {
				h.log.ErrorContext(ctx, "sse.encode.fail", slog.String("err", err.Error()))
				return
			}
			seq++
			if err := writeSSEEvent(w, f, strconv.Itoa(seq), payload); err != nil {
				h.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
		}
	}
}

// snapshot encodes the current mirror: a list of items for queues and
// stacks, a list of entries for sorted sets.
func snapshot(r *collections.Replica, sorted bool) ([]byte, error) {
	if sorted {
		return json.Marshal(entryViews(r.Entries()))
	}
	return json.Marshal(r.Items())
}

func writeSSEEvent(w io.Writer, f http.Flusher, id string, payload []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	f.Flush()
	return nil
}
