package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with whatever collection, replica and request
// data the context carries.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("path", rd.Path),
			slog.String("remote_addr", rd.RemoteAddr),
		))
	}

	if cd, ok := ctx.Value(collectionDataKey{}).(*CollectionData); ok {
		r.AddAttrs(slog.Group("coll",
			slog.String("kind", cd.Kind),
			slog.String("key", cd.Key),
			slog.String("topic", cd.Topic),
		))
	}

	if rep, ok := ctx.Value(replicaDataKey{}).(*ReplicaData); ok {
		r.AddAttrs(slog.Group("replica",
			slog.String("id", rep.ReplicaID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// Wrap returns l with a Handler in front of its handler. Wrapping an already
// wrapped logger is a no-op.
func Wrap(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if _, ok := l.Handler().(Handler); ok {
		return l
	}
	return slog.New(Handler{Handler: l.Handler()})
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type collectionDataKey struct{}

type CollectionData struct {
	Kind  string
	Key   string
	Topic string
}

func WithCollectionData(ctx context.Context, data *CollectionData) context.Context {
	return context.WithValue(ctx, collectionDataKey{}, data)
}

type replicaDataKey struct{}

type ReplicaData struct {
	ReplicaID string
}

func WithReplicaData(ctx context.Context, data *ReplicaData) context.Context {
	return context.WithValue(ctx, replicaDataKey{}, data)
}
