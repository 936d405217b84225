// Package rawrcache keeps a Redis cache consistent with a relational source
// of truth for a chat-bot backend. It assembles the building blocks (the
// cache-aside reader, after-commit invalidation, recency lists and the spam
// guard) around one Redis client:
//
//	st, err := rawrcache.New(rdb, rawrcache.DefaultOptions()...)
//	u := st.UnitOfWork(db)
//	resolver := st.Resolver(u, notifier)
//
// Each package can also be used on its own.
package rawrcache

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/guard"
	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/middleware"
	"github.com/Keksclan/rawrcache/settings"
	"github.com/Keksclan/rawrcache/tracing"
	"github.com/Keksclan/rawrcache/uow"
	"github.com/Keksclan/rawrcache/users"
)

// Stack is the assembled consistency layer over one Redis client.
type Stack struct {
	cfg config

	redis   *kv.Redis
	circuit *kv.CircuitStore
	store   kv.Store
	l1      *cache.L1
	aside   *cache.Aside

	log      *slog.Logger
	sampler  *logx.Sampler
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tracing  *tracing.Config
}

// New creates a [Stack] over client by applying the supplied functional
// [Option] values.
func New(client redis.UniversalClient, opts ...Option) (*Stack, error) {
	cfg := config{namespace: cache.DefaultNamespace}
	for _, o := range opts {
		o(&cfg)
	}

	s := &Stack{
		cfg:      cfg,
		log:      logx.Or(cfg.logger),
		registry: cfg.registry,
		tracing:  &tracing.Config{TracerProvider: cfg.tracerProvider},
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = metrics.New(s.registry)
	if cfg.logPerSecond > 0 {
		s.sampler = logx.NewSampler(cfg.logPerSecond, max(cfg.logBurst, 1))
	}

	var kvOpts []kv.Option
	if cfg.opTimeout > 0 {
		kvOpts = append(kvOpts, kv.WithOpTimeout(cfg.opTimeout))
	}
	s.redis = kv.NewRedis(client, kvOpts...)
	s.store = s.redis
	if cfg.circuit != nil {
		s.circuit = kv.WithCircuit(s.redis, *cfg.circuit)
		s.store = s.circuit
	}

	cacheOpts := []cache.Option{
		cache.WithNamespace(cfg.namespace),
		cache.WithLogger(s.log),
		cache.WithSampler(s.sampler),
		cache.WithMetrics(s.metrics),
		cache.WithTracing(s.tracing),
	}
	if cfg.l1MaxCost > 0 {
		l1, err := cache.NewL1(cfg.l1MaxCost)
		if err != nil {
			return nil, err
		}
		s.l1 = l1
		cacheOpts = append(cacheOpts, cache.WithL1(l1, cfg.l1TTL))
	}
	s.aside = cache.New(s.store, cacheOpts...)
	return s, nil
}

// Store returns the key-value store every component shares, circuit
// breaker included when configured.
func (s *Stack) Store() kv.Store {
	return s.store
}

// Aside returns the cache-aside reader.
func (s *Stack) Aside() *cache.Aside {
	return s.aside
}

func (s *Stack) Metrics() *metrics.Metrics {
	return s.metrics
}

// Ping checks that Redis answers, bypassing the circuit breaker.
func (s *Stack) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}

// CircuitState reports the breaker state; always closed without one.
func (s *Stack) CircuitState() kv.CircuitState {
	if s.circuit == nil {
		return kv.CircuitClosed
	}
	return s.circuit.State()
}

// UnitOfWork binds db to the stack's logging, metrics and tracing.
func (s *Stack) UnitOfWork(db *gorm.DB, opts ...uow.Option) *uow.UnitOfWork {
	base := []uow.Option{
		uow.WithLogger(s.log),
		uow.WithMetrics(s.metrics),
		uow.WithTracing(s.tracing),
	}
	if s.cfg.txRetry != nil {
		base = append(base, uow.WithRetry(*s.cfg.txRetry))
	}
	return uow.New(db, append(base, opts...)...)
}

func (s *Stack) Users(u *uow.UnitOfWork) *users.Service {
	opts := []users.Option{
		users.WithDevID(s.cfg.devID),
		users.WithLogger(s.log),
		users.WithSampler(s.sampler),
		users.WithMetrics(s.metrics),
		users.WithTracing(s.tracing),
	}
	if s.cfg.defaultLocale != "" {
		opts = append(opts, users.WithLocales(s.cfg.defaultLocale, s.cfg.locales...))
	}
	return users.NewService(u, s.aside, opts...)
}

func (s *Stack) Settings(u *uow.UnitOfWork) *settings.Service {
	return settings.NewService(u, s.aside,
		settings.WithLogger(s.log),
		settings.WithMetrics(s.metrics),
		settings.WithTracing(s.tracing),
	)
}

// Guard returns the /start spam guard.
func (s *Stack) Guard() *guard.Guard {
	return guard.New(s.store,
		guard.WithWindow(s.cfg.spamWindow),
		guard.WithThreshold(s.cfg.spamThreshold),
		guard.WithLogger(s.log),
		guard.WithSampler(s.sampler),
		guard.WithMetrics(s.metrics),
	)
}

// Resolver wires the per-update user pipeline. A nil notifier disables
// registration notifications.
func (s *Stack) Resolver(u *uow.UnitOfWork, n middleware.Notifier) *middleware.Resolver {
	opts := []middleware.Option{
		middleware.WithSettings(s.Settings(u)),
		middleware.WithGuard(s.Guard()),
		middleware.WithDevID(s.cfg.devID),
		middleware.WithLogger(s.log),
	}
	if n != nil {
		opts = append(opts, middleware.WithNotifier(n))
	}
	return middleware.NewResolver(s.Users(u), opts...)
}

// MetricsHandler returns an http.Handler that serves the stack's Prometheus
// metrics.
func (s *Stack) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Close releases the near-cache and the Redis client.
func (s *Stack) Close() error {
	if s.l1 != nil {
		s.l1.Close()
	}
	return s.redis.Close()
}
