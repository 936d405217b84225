package rawrcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/middleware"
)

// HandlerFunc handles one chat update whose sender has been resolved.
type HandlerFunc func(ctx context.Context, ev middleware.Event, r middleware.Resolved) error

// Middleware transforms a HandlerFunc, allowing pre/post behavior composition.
type Middleware func(HandlerFunc) HandlerFunc

// Chain composes middlewares from left to right, i.e., Chain(A, B)(h) => A(B(h)).
func Chain(mw ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// Wrap returns an update handler that resolves the sender with res before
// calling h through mw. Updates without a human sender are dropped silently.
func Wrap(res *middleware.Resolver, h HandlerFunc, mw ...Middleware) func(context.Context, middleware.Event) error {
	if len(mw) > 0 {
		h = Chain(mw...)(h)
	}
	return func(ctx context.Context, ev middleware.Event) error {
		ctx, r, err := res.Resolve(ctx, ev)
		if errors.Is(err, middleware.ErrSkipped) {
			return nil
		}
		if err != nil {
			return err
		}
		return h(ctx, ev, r)
	}
}

// ErrPanic is wrapped by errors produced from a recovered handler panic.
var ErrPanic = errors.New("rawrcache: handler panicked")

// Recover turns a panic inside the handler into an error wrapping ErrPanic
// and logs it with the stack trace.
func Recover(l *slog.Logger) Middleware {
	l = logx.Or(l)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ev middleware.Event, r middleware.Resolved) (err error) {
			defer func() {
				if p := recover(); p != nil {
					logx.With(ctx, l).ErrorContext(ctx, "handler panic",
						slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
					err = fmt.Errorf("%w: %v", ErrPanic, p)
				}
			}()
			return next(ctx, ev, r)
		}
	}
}
