// Package middleware resolves the user behind an incoming chat update before
// handlers run: it registers newcomers, keeps their profile in sync and
// records activity.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Keksclan/rawrcache/contextx"
	"github.com/Keksclan/rawrcache/guard"
	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/settings"
	"github.com/Keksclan/rawrcache/users"
)

// ErrSkipped is returned for updates that carry no human sender.
var ErrSkipped = errors.New("middleware: update skipped")

// Event is the part of an update the resolver looks at.
type Event struct {
	// From is nil for updates without a sender, such as channel posts.
	From *users.Profile
	// Text is the message text, empty for non-message updates.
	Text string
	// Synthetic marks updates fabricated by the dialog layer. Their sender
	// profile is a placeholder and must not overwrite stored fields.
	Synthetic bool
}

// Registration describes a newly created user for admin notification.
type Registration struct {
	User *users.User
}

// Notifier delivers system notifications to admins.
type Notifier interface {
	UserRegistered(ctx context.Context, r Registration) error
}

// Resolved is the outcome of [Resolver.Resolve].
type Resolved struct {
	User *users.User
	// Created is true when the update registered the user.
	Created bool
	// StartSpam is true when a /start command exceeded the spam guard.
	StartSpam bool
	// IsDev reports whether the user is the configured developer.
	IsDev bool
}

// Resolver runs the per-update user pipeline.
type Resolver struct {
	users    *users.Service
	settings *settings.Service
	guard    *guard.Guard
	notifier Notifier
	devID    int64
	log      *slog.Logger
}

type Option func(*Resolver)

func WithNotifier(n Notifier) Option {
	return func(r *Resolver) { r.notifier = n }
}

func WithSettings(s *settings.Service) Option {
	return func(r *Resolver) { r.settings = s }
}

func WithGuard(g *guard.Guard) Option {
	return func(r *Resolver) { r.guard = g }
}

func WithDevID(id int64) Option {
	return func(r *Resolver) { r.devID = id }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

func NewResolver(us *users.Service, opts ...Option) *Resolver {
	r := &Resolver{users: us}
	for _, o := range opts {
		o(r)
	}
	r.log = logx.Or(r.log)
	return r
}

// Resolve loads or registers the sender of ev. The returned context carries
// a request id and the sender's id for logging.
//
// Only relational failures are returned; cache, recency and spam-guard
// problems degrade silently. A failed admin notification is logged and does
// not fail the update.
func (r *Resolver) Resolve(ctx context.Context, ev Event) (context.Context, Resolved, error) {
	if ev.From == nil || ev.From.IsBot {
		r.log.WarnContext(ctx, "skipping update from bot or without sender")
		return ctx, Resolved{}, ErrSkipped
	}
	ctx = contextx.EnsureRequestID(ctx)
	ctx = contextx.WithSubject(ctx, ev.From.ID)
	log := logx.With(ctx, r.log)

	var out Resolved
	if r.guard != nil && IsStartCommand(ev.Text) {
		out.StartSpam = r.guard.Increment(ctx, ev.From.ID).Exceeded
	}

	u, err := r.users.Get(ctx, ev.From.ID)
	if err != nil {
		return ctx, Resolved{}, fmt.Errorf("resolve user: %w", err)
	}

	if u == nil {
		u, out.Created, err = r.users.Register(ctx, *ev.From)
		if err != nil {
			return ctx, Resolved{}, fmt.Errorf("register user: %w", err)
		}
	}

	switch {
	case out.Created:
		r.notifyRegistered(ctx, log, u, out.StartSpam)
	case !ev.Synthetic:
		u, err = r.users.CompareAndUpdate(ctx, u, *ev.From)
		if err != nil {
			return ctx, Resolved{}, fmt.Errorf("refresh user: %w", err)
		}
	}

	if u.IsBotBlocked {
		log.InfoContext(ctx, "bot unblocked by user")
		if err := r.users.SetBotBlocked(ctx, u, false); err != nil {
			return ctx, Resolved{}, fmt.Errorf("clear bot blocked: %w", err)
		}
	}

	r.users.TouchActivity(ctx, u.TelegramID)

	out.User = u
	out.IsDev = r.devID != 0 && u.TelegramID == r.devID
	return ctx, out, nil
}

func (r *Resolver) notifyRegistered(ctx context.Context, log *slog.Logger, u *users.User, spam bool) {
	if r.notifier == nil {
		return
	}
	if spam {
		log.WarnContext(ctx, "start spam detected, skipping admin notification")
		return
	}
	if r.settings != nil {
		on, err := r.settings.Enabled(ctx, settings.UserRegistered)
		if err != nil {
			log.ErrorContext(ctx, "load notification settings", logx.Err(err))
			return
		}
		if !on {
			return
		}
	}
	if err := r.notifier.UserRegistered(ctx, Registration{User: u}); err != nil {
		log.ErrorContext(ctx, "notify user registered", logx.Err(err))
	}
}

// IsStartCommand reports whether text is /start or /start@botname, with or
// without a payload.
func IsStartCommand(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(fields[0])
	return cmd == "/start" || strings.HasPrefix(cmd, "/start@")
}
