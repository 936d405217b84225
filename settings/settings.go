// Package settings stores the bot-wide notification toggles as a single
// cached row.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/invalidate"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/tracing"
	"github.com/Keksclan/rawrcache/uow"
)

// Type names one system notification.
type Type string

const (
	BotLifetime        Type = "bot_lifetime"
	UserRegistered     Type = "user_registered"
	Subscription       Type = "subscription"
	PromocodeActivated Type = "promocode_activated"
)

// ErrUnknownType is returned when toggling a notification that has no column.
var ErrUnknownType = errors.New("settings: unknown notification type")

const singletonID = 1

// PrefixGet is the cache prefix of the settings row.
const PrefixGet = "get_notification_settings"

const ttl = 10 * time.Minute

// InvalidationSpec has no per-id key; the singleton is an aggregate.
var InvalidationSpec = invalidate.Spec{
	Entity:     "notification_settings",
	Aggregates: []invalidate.Template{{Operation: PrefixGet}},
}

// Notifications is the singleton settings row. Every toggle defaults to on.
type Notifications struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	BotLifetime        bool      `gorm:"not null" json:"bot_lifetime"`
	UserRegistered     bool      `gorm:"not null" json:"user_registered"`
	Subscription       bool      `gorm:"not null" json:"subscription"`
	PromocodeActivated bool      `gorm:"not null" json:"promocode_activated"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (Notifications) TableName() string { return "notification_settings" }

// Defaults returns the row created on first access.
func Defaults() Notifications {
	return Notifications{
		ID:                 singletonID,
		BotLifetime:        true,
		UserRegistered:     true,
		Subscription:       true,
		PromocodeActivated: true,
	}
}

// Enabled reports whether notifications of type t are switched on. Unknown
// types are off.
func (n Notifications) Enabled(t Type) bool {
	switch t {
	case BotLifetime:
		return n.BotLifetime
	case UserRegistered:
		return n.UserRegistered
	case Subscription:
		return n.Subscription
	case PromocodeActivated:
		return n.PromocodeActivated
	}
	return false
}

// getOrCreate reads the singleton, inserting the defaults when missing.
// Concurrent first reads converge on one row.
func getOrCreate(db *gorm.DB) (*Notifications, error) {
	var n Notifications
	err := db.Where("id = ?", singletonID).Take(&n).Error
	if err == nil {
		return &n, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get notification settings: %w", err)
	}

	n = Defaults()
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&n).Error; err != nil {
		return nil, fmt.Errorf("create notification settings: %w", err)
	}
	if err := db.Where("id = ?", singletonID).Take(&n).Error; err != nil {
		return nil, fmt.Errorf("get notification settings: %w", err)
	}
	return &n, nil
}

// Service serves the settings row through the cache.
type Service struct {
	uow   *uow.UnitOfWork
	aside *cache.Aside
	inv   *invalidate.Invalidator
	log   *slog.Logger
}

type Option func(*serviceOptions)

type serviceOptions struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	tracing *tracing.Config
}

func WithLogger(l *slog.Logger) Option {
	return func(o *serviceOptions) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

func WithTracing(cfg *tracing.Config) Option {
	return func(o *serviceOptions) { o.tracing = cfg }
}

func NewService(u *uow.UnitOfWork, aside *cache.Aside, opts ...Option) *Service {
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	log := logx.Or(o.log)
	return &Service{
		uow:   u,
		aside: aside,
		log:   log,
		inv: invalidate.New(aside, aside.Namespace(), InvalidationSpec,
			invalidate.WithLogger(log),
			invalidate.WithMetrics(o.metrics),
			invalidate.WithTracing(o.tracing),
		),
	}
}

// Get returns the settings, creating the default row on first use.
func (s *Service) Get(ctx context.Context) (Notifications, error) {
	res, err := cache.Read(ctx, s.aside, PrefixGet, nil, ttl, func(ctx context.Context) (Notifications, error) {
		n, err := uow.Run(ctx, s.uow, func(tx *uow.Tx) (*Notifications, error) {
			return getOrCreate(tx.DB)
		})
		if err != nil {
			return Notifications{}, err
		}
		return *n, nil
	})
	return res.Value, err
}

// Enabled is a shorthand for Get followed by [Notifications.Enabled].
func (s *Service) Enabled(ctx context.Context, t Type) (bool, error) {
	n, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	return n.Enabled(t), nil
}

// Update stores every toggle of n.
func (s *Service) Update(ctx context.Context, n Notifications) (Notifications, error) {
	return s.update(ctx, map[string]any{
		string(BotLifetime):        n.BotLifetime,
		string(UserRegistered):     n.UserRegistered,
		string(Subscription):       n.Subscription,
		string(PromocodeActivated): n.PromocodeActivated,
	})
}

// Toggle flips one notification type and returns the new settings.
func (s *Service) Toggle(ctx context.Context, t Type) (Notifications, error) {
	switch t {
	case BotLifetime, UserRegistered, Subscription, PromocodeActivated:
	default:
		return Notifications{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return uow.Run(ctx, s.uow, func(tx *uow.Tx) (Notifications, error) {
		cur, err := getOrCreate(tx.DB)
		if err != nil {
			return Notifications{}, err
		}
		return s.apply(tx, map[string]any{string(t): !cur.Enabled(t)})
	})
}

func (s *Service) update(ctx context.Context, fields map[string]any) (Notifications, error) {
	return uow.Run(ctx, s.uow, func(tx *uow.Tx) (Notifications, error) {
		if _, err := getOrCreate(tx.DB); err != nil {
			return Notifications{}, err
		}
		return s.apply(tx, fields)
	})
}

func (s *Service) apply(tx *uow.Tx, fields map[string]any) (Notifications, error) {
	err := tx.DB.Model(&Notifications{}).Where("id = ?", singletonID).Updates(fields).Error
	if err != nil {
		return Notifications{}, fmt.Errorf("update notification settings: %w", err)
	}
	var n Notifications
	if err := tx.DB.Where("id = ?", singletonID).Take(&n).Error; err != nil {
		return Notifications{}, fmt.Errorf("get notification settings: %w", err)
	}
	tx.AfterCommit(func(ctx context.Context) {
		s.inv.Invalidate(ctx)
		logx.With(ctx, s.log).InfoContext(ctx, "notification settings updated")
	})
	return n, nil
}
