package log

import (
	"context"
	"log/slog"
)

type ctxAttrsKey struct{}

func attrsFromContext(ctx context.Context) []slog.Attr {
	if v, ok := ctx.Value(ctxAttrsKey{}).([]slog.Attr); ok {
		return v
	}
	return nil
}

// ContextWithAttrs returns a context carrying attrs. Records logged through
// the returned context (or its descendants) include them, provided the
// logger's handler chain contains the handler installed by Initialize or
// NewContextHandler.
func ContextWithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	merged := append(attrsFromContext(ctx), attrs...)
	return context.WithValue(ctx, ctxAttrsKey{}, merged)
}

// ClearContextAttrs strips any attrs previously attached with
// ContextWithAttrs from the context.
func ClearContextAttrs(ctx context.Context) context.Context {
	if attrsFromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxAttrsKey{}, []slog.Attr(nil))
}

type contextHandler struct {
	inner slog.Handler
}

// NewContextHandler wraps an slog.Handler so that attrs carried by the
// record's context are appended to each record.
func NewContextHandler(inner slog.Handler) slog.Handler {
	return &contextHandler{inner: inner}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := attrsFromContext(ctx); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}
