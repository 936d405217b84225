// Package uow scopes relational-store work in a single transaction and runs
// follow-up work (cache invalidation, recency lists) only once that
// transaction has committed.
package uow

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/retry"
	"github.com/Keksclan/rawrcache/tracing"
)

// Tx is the transactional session handed to a unit of work.
type Tx struct {
	// DB is bound to the open transaction; every repository built on it
	// participates in the same commit.
	DB *gorm.DB

	hooks []func(context.Context)
}

// AfterCommit schedules fn to run after the transaction commits. Hooks run in
// registration order and are dropped if the transaction rolls back.
func (t *Tx) AfterCommit(fn func(context.Context)) {
	t.hooks = append(t.hooks, fn)
}

// UnitOfWork opens transactions against one database.
type UnitOfWork struct {
	db    *gorm.DB
	retry retry.Config

	log     *slog.Logger
	metrics *metrics.Metrics
	tracing *tracing.Config
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithRetry re-runs the whole transaction when cfg.Retryable accepts its
// error. Hooks registered by a failed attempt never run.
func WithRetry(cfg retry.Config) Option {
	return func(u *UnitOfWork) {
		u.retry = cfg
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(u *UnitOfWork) {
		u.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(u *UnitOfWork) {
		u.metrics = m
	}
}

func WithTracing(cfg *tracing.Config) Option {
	return func(u *UnitOfWork) {
		u.tracing = cfg
	}
}

// New creates a UnitOfWork over db.
func New(db *gorm.DB, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{db: db, retry: retry.Config{MaxAttempts: 1}}
	for _, o := range opts {
		o(u)
	}
	u.log = logx.Or(u.log)
	return u
}

// DB returns the non-transactional handle, for reads that need no scope.
func (u *UnitOfWork) DB() *gorm.DB {
	return u.db
}

// Do runs fn in a transaction. A nil return commits; an error or panic rolls
// back and is propagated, so callers never observe partial writes. After a
// commit the scheduled hooks run with a context that outlives caller
// cancellation, because skipping them would leave stale cache entries behind.
func (u *UnitOfWork) Do(ctx context.Context, fn func(*Tx) error) error {
	ctx, span := u.tracing.Start(ctx, "uow.Do")

	hooks, err := retry.Do(ctx, u.retry, func(ctx context.Context) ([]func(context.Context), error) {
		tx := &Tx{}
		err := u.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			tx.DB = db
			return fn(tx)
		})
		if err != nil {
			u.metrics.Transaction("rollback")
			logx.With(ctx, u.log).DebugContext(ctx, "transaction rolled back", logx.Err(err))
			return nil, err
		}
		return tx.hooks, nil
	})
	tracing.End(span, err)
	if err != nil {
		return err
	}

	u.metrics.Transaction("commit")
	hookCtx := context.WithoutCancel(ctx)
	for _, h := range hooks {
		h(hookCtx)
	}
	return nil
}

// Run is [UnitOfWork.Do] for work that produces a value.
func Run[T any](ctx context.Context, u *UnitOfWork, fn func(*Tx) (T, error)) (T, error) {
	var out T
	err := u.Do(ctx, func(tx *Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
