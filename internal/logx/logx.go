// Package logx holds the slog conventions shared by every package.
package logx

import (
	"context"
	"log/slog"

	"github.com/Keksclan/rawrcache/contextx"
)

// Or returns l, or slog.Default() when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// With enriches l with the request id and subject carried by ctx.
func With(ctx context.Context, l *slog.Logger) *slog.Logger {
	l = Or(l)
	if id := contextx.RequestIDFromContext(ctx); id != "" {
		l = l.With(slog.String("request_id", id))
	}
	if sub, ok := contextx.SubjectFromContext(ctx); ok {
		l = l.With(slog.Int64("telegram_id", sub))
	}
	return l
}

// Err renders an error attribute under the common key.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// ContextHandler adds the request id and subject carried by the record's
// context. It serves loggers that only ever see a context, such as GORM's.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler wraps h.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := contextx.RequestIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if sub, ok := contextx.SubjectFromContext(ctx); ok {
		r.AddAttrs(slog.Int64("telegram_id", sub))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
