// Package users is the cached user service of the bot backend. Reads go
// through the shared cache, writes go through a unit of work and invalidate
// the user's entry together with every user aggregate once they commit.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/invalidate"
	"github.com/Keksclan/rawrcache/keys"
	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/recency"
	"github.com/Keksclan/rawrcache/tracing"
	"github.com/Keksclan/rawrcache/uow"
)

var (
	// ErrNotFound is returned by writes addressing a user that does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrExists is returned by Create when the user is already stored.
	ErrExists = errors.New("users: already exists")
)

// Cached operation prefixes.
const (
	PrefixGet     = "get_user"
	PrefixCount   = "count"
	PrefixByRole  = "get_by_role"
	PrefixDevs    = "get_devs"
	PrefixAdmins  = "get_admins"
	PrefixBlocked = "get_blocked_users"
)

const (
	shortTTL = time.Minute
	longTTL  = 10 * time.Minute
)

// InvalidationSpec lists every key a user write can make stale.
var InvalidationSpec = invalidate.Spec{
	Entity:  "user",
	Direct:  invalidate.Template{Operation: PrefixGet},
	IDParam: "telegram_id",
	Aggregates: []invalidate.Template{
		{Operation: PrefixByRole, Params: keys.Params{"role": RoleDev}},
		{Operation: PrefixByRole, Params: keys.Params{"role": RoleAdmin}},
		{Operation: PrefixByRole, Params: keys.Params{"role": RoleUser}},
		{Operation: PrefixDevs},
		{Operation: PrefixAdmins},
		{Operation: PrefixBlocked},
		{Operation: PrefixCount},
	},
}

// Service serves users from SQL through the cache.
type Service struct {
	uow        *uow.UnitOfWork
	aside      *cache.Aside
	inv        *invalidate.Invalidator
	registered *recency.List
	active     *recency.List

	devID         int64
	defaultLocale string
	locales       []string

	log     *slog.Logger
	sampler *logx.Sampler
	metrics *metrics.Metrics
	tracing *tracing.Config
}

type Option func(*Service)

// WithDevID marks the user with this id as developer on registration.
func WithDevID(id int64) Option {
	return func(s *Service) { s.devID = id }
}

// WithLocales sets the supported languages. A new user whose language is not
// among them gets def.
func WithLocales(def string, supported ...string) Option {
	return func(s *Service) {
		s.defaultLocale = def
		s.locales = supported
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithSampler(sm *logx.Sampler) Option {
	return func(s *Service) { s.sampler = sm }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracing(cfg *tracing.Config) Option {
	return func(s *Service) { s.tracing = cfg }
}

// NewService wires the user service. Invalidation and the recency lists use
// the same store and namespace as aside.
func NewService(u *uow.UnitOfWork, aside *cache.Aside, opts ...Option) *Service {
	s := &Service{
		uow:           u,
		aside:         aside,
		defaultLocale: "en",
		sampler:       logx.DefaultSampler(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logx.Or(s.log)

	s.inv = invalidate.New(aside, aside.Namespace(), InvalidationSpec,
		invalidate.WithLogger(s.log),
		invalidate.WithMetrics(s.metrics),
		invalidate.WithTracing(s.tracing),
	)
	listOpts := []recency.Option{
		recency.WithLogger(s.log),
		recency.WithSampler(s.sampler),
		recency.WithMetrics(s.metrics),
	}
	s.registered = recency.New(aside.Store(), keys.RecentRegisteredUsers, listOpts...)
	s.active = recency.New(aside.Store(), keys.RecentActivityUsers, listOpts...)
	return s
}

// Get returns the user or nil. Absence is cached like any other result.
func (s *Service) Get(ctx context.Context, telegramID int64) (*User, error) {
	res, err := cache.Lookup(ctx, s.aside, PrefixGet, keys.Params{"telegram_id": telegramID}, shortTTL,
		func(ctx context.Context) (*User, error) {
			return uow.Run(ctx, s.uow, func(tx *uow.Tx) (*User, error) {
				return NewRepository(tx.DB).Get(telegramID)
			})
		})
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	res, err := cache.Read(ctx, s.aside, PrefixCount, nil, shortTTL, func(ctx context.Context) (int64, error) {
		return uow.Run(ctx, s.uow, func(tx *uow.Tx) (int64, error) {
			return NewRepository(tx.DB).Count()
		})
	})
	return res.Value, err
}

func (s *Service) ByRole(ctx context.Context, role Role) ([]User, error) {
	return s.list(ctx, PrefixByRole, keys.Params{"role": role}, shortTTL, func(r *Repository) ([]User, error) {
		return r.FilterByRole(role)
	})
}

func (s *Service) Devs(ctx context.Context) ([]User, error) {
	return s.list(ctx, PrefixDevs, nil, longTTL, func(r *Repository) ([]User, error) {
		return r.FilterByRole(RoleDev)
	})
}

func (s *Service) Admins(ctx context.Context) ([]User, error) {
	return s.list(ctx, PrefixAdmins, nil, longTTL, func(r *Repository) ([]User, error) {
		return r.FilterByRole(RoleAdmin)
	})
}

func (s *Service) Blocked(ctx context.Context) ([]User, error) {
	return s.list(ctx, PrefixBlocked, nil, longTTL, func(r *Repository) ([]User, error) {
		return r.FilterBlocked()
	})
}

// SearchByName is not cached: queries are free-form.
func (s *Service) SearchByName(ctx context.Context, query string) ([]User, error) {
	return uow.Run(ctx, s.uow, func(tx *uow.Tx) ([]User, error) {
		return NewRepository(tx.DB).SearchByName(query)
	})
}

func (s *Service) list(ctx context.Context, prefix string, params keys.Params, ttl time.Duration, q func(*Repository) ([]User, error)) ([]User, error) {
	res, err := cache.Read(ctx, s.aside, prefix, params, ttl, func(ctx context.Context) ([]User, error) {
		return uow.Run(ctx, s.uow, func(tx *uow.Tx) ([]User, error) {
			return q(NewRepository(tx.DB))
		})
	})
	return res.Value, err
}

// Create registers the sender of p. The configured developer id gets
// [RoleDev]; unsupported languages fall back to the default locale.
func (s *Service) Create(ctx context.Context, p Profile) (*User, error) {
	u := &User{
		TelegramID: p.ID,
		Name:       p.FullName(),
		Username:   p.Username,
		Role:       RoleUser,
		Language:   s.language(p.LanguageCode),
	}
	if s.devID != 0 && p.ID == s.devID {
		u.Role = RoleDev
	}

	err := s.uow.Do(ctx, func(tx *uow.Tx) error {
		if err := NewRepository(tx.DB).Create(u); err != nil {
			return err
		}
		tx.AfterCommit(func(ctx context.Context) {
			s.inv.Invalidate(ctx, u.TelegramID)
			s.registered.Touch(ctx, u.TelegramID)
		})
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: %w", ErrExists, err)
	}
	if err != nil {
		return nil, err
	}
	logx.With(ctx, s.log).InfoContext(ctx, "user created",
		slog.Int64("telegram_id", u.TelegramID), slog.String("role", string(u.Role)))
	return u, nil
}

// Register returns the stored user for p, creating it when absent. created
// is false when the row already existed even though the cache said absent;
// the stored row is read past the cache and the stale entries are dropped.
func (s *Service) Register(ctx context.Context, p Profile) (u *User, created bool, err error) {
	u, err = s.Create(ctx, p)
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, ErrExists) {
		return nil, false, err
	}

	u, err = uow.Run(ctx, s.uow, func(tx *uow.Tx) (*User, error) {
		return NewRepository(tx.DB).Get(p.ID)
	})
	if err != nil {
		return nil, false, err
	}
	if u == nil {
		return nil, false, fmt.Errorf("register user %d: %w", p.ID, ErrNotFound)
	}
	s.inv.Invalidate(ctx, p.ID)
	logx.With(ctx, s.log).WarnContext(ctx, "user already stored, cached absence was stale",
		slog.Int64("telegram_id", p.ID))
	return u, false, nil
}

// Update stores every mutable field of u.
func (s *Service) Update(ctx context.Context, u *User) (*User, error) {
	return s.update(ctx, u.TelegramID, map[string]any{
		"name":           u.Name,
		"username":       u.Username,
		"role":           u.Role,
		"language":       u.Language,
		"is_blocked":     u.IsBlocked,
		"is_bot_blocked": u.IsBotBlocked,
	})
}

// Delete removes the user. It reports false when there was nothing to
// delete.
func (s *Service) Delete(ctx context.Context, telegramID int64) (bool, error) {
	return uow.Run(ctx, s.uow, func(tx *uow.Tx) (bool, error) {
		ok, err := NewRepository(tx.DB).Delete(telegramID)
		if err != nil || !ok {
			return ok, err
		}
		tx.AfterCommit(func(ctx context.Context) {
			s.inv.Invalidate(ctx, telegramID)
			s.registered.Remove(ctx, telegramID)
			s.active.Remove(ctx, telegramID)
		})
		return true, nil
	})
}

// SetBlocked updates the admin block flag on u and in storage.
func (s *Service) SetBlocked(ctx context.Context, u *User, blocked bool) error {
	return s.set(ctx, u, "is_blocked", blocked, func(u *User) { u.IsBlocked = blocked })
}

// SetBotBlocked records whether the user has blocked the bot.
func (s *Service) SetBotBlocked(ctx context.Context, u *User, blocked bool) error {
	return s.set(ctx, u, "is_bot_blocked", blocked, func(u *User) { u.IsBotBlocked = blocked })
}

func (s *Service) SetRole(ctx context.Context, u *User, role Role) error {
	return s.set(ctx, u, "role", role, func(u *User) { u.Role = role })
}

// CompareAndUpdate refreshes the profile fields that changed on the chat
// platform. Nothing is written when none did.
func (s *Service) CompareAndUpdate(ctx context.Context, u *User, p Profile) (*User, error) {
	fields := map[string]any{}
	if name := p.FullName(); name != u.Name {
		fields["name"] = name
	}
	if p.Username != u.Username {
		fields["username"] = p.Username
	}
	if p.LanguageCode != "" {
		if lang := s.language(p.LanguageCode); lang != u.Language {
			fields["language"] = lang
		}
	}
	if len(fields) == 0 {
		return u, nil
	}
	logx.With(ctx, s.log).DebugContext(ctx, "user profile changed",
		slog.Int64("telegram_id", u.TelegramID), slog.Int("fields", len(fields)))
	return s.update(ctx, u.TelegramID, fields)
}

// Invalidate clears the cached copies of ids and every user aggregate.
func (s *Service) Invalidate(ctx context.Context, ids ...int64) kv.Outcome {
	return s.inv.Invalidate(ctx, ids...)
}

func (s *Service) set(ctx context.Context, u *User, column string, v any, apply func(*User)) error {
	if _, err := s.update(ctx, u.TelegramID, map[string]any{column: v}); err != nil {
		return err
	}
	apply(u)
	return nil
}

func (s *Service) update(ctx context.Context, telegramID int64, fields map[string]any) (*User, error) {
	return uow.Run(ctx, s.uow, func(tx *uow.Tx) (*User, error) {
		u, err := NewRepository(tx.DB).Update(telegramID, fields)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, ErrNotFound
		}
		tx.AfterCommit(func(ctx context.Context) {
			s.inv.Invalidate(ctx, telegramID)
		})
		return u, nil
	})
}

func (s *Service) language(code string) string {
	if code != "" && slices.Contains(s.locales, code) {
		return code
	}
	return s.defaultLocale
}
