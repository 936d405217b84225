// Package cache implements cache-aside reads over a shared key-value store.
//
// A read computes its key from a prefix and the call's parameters, serves a
// stored copy when one exists, and otherwise runs the underlying computation
// and stores the result with a TTL. Absent results are cached too. The store
// is never a hard dependency: when it fails the computation runs directly and
// the result reports a degraded [kv.Outcome].
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/keys"
	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/tracing"
)

// DefaultNamespace prefixes every cache key.
const DefaultNamespace = "cache"

// DefaultL1TTL caps how long an entry may live in the near-cache.
const DefaultL1TTL = 5 * time.Second

// Source tells where a read was served from.
type Source int

const (
	// Miss means the value was computed and written back.
	Miss Source = iota
	// Hit means the value came from the cache; compute was not called.
	Hit
	// Bypass means the store was unreachable and the value was computed
	// without touching the cache.
	Bypass
)

func (s Source) String() string {
	switch s {
	case Hit:
		return "hit"
	case Bypass:
		return "bypass"
	default:
		return "miss"
	}
}

// Result is what a cached read returns. Found is false for an absent entity
// served by [Lookup]. Outcome is degraded whenever a cache step was skipped;
// Value is still authoritative in that case.
type Result[T any] struct {
	Value   T
	Found   bool
	Source  Source
	Outcome kv.Outcome
}

// Aside holds the store and the ambient dependencies of cached reads.
type Aside struct {
	store     kv.Store
	namespace string
	l1        *L1
	l1TTL     time.Duration

	log     *slog.Logger
	sampler *logx.Sampler
	metrics *metrics.Metrics
	tracing *tracing.Config
}

// Option configures an Aside.
type Option func(*Aside)

// WithNamespace overrides [DefaultNamespace].
func WithNamespace(ns string) Option {
	return func(a *Aside) {
		a.namespace = ns
	}
}

// WithL1 adds a near-cache in front of the shared store. Entries stay in it
// for at most ttl (or the read's TTL when shorter).
func WithL1(l1 *L1, ttl time.Duration) Option {
	return func(a *Aside) {
		a.l1 = l1
		if ttl > 0 {
			a.l1TTL = ttl
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aside) {
		a.log = l
	}
}

// WithSampler throttles degradation warnings. Pass nil to log every one.
func WithSampler(s *logx.Sampler) Option {
	return func(a *Aside) {
		a.sampler = s
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aside) {
		a.metrics = m
	}
}

func WithTracing(cfg *tracing.Config) Option {
	return func(a *Aside) {
		a.tracing = cfg
	}
}

// New creates an Aside over store.
func New(store kv.Store, opts ...Option) *Aside {
	a := &Aside{
		store:     store,
		namespace: DefaultNamespace,
		l1TTL:     DefaultL1TTL,
		sampler:   logx.DefaultSampler(),
	}
	for _, o := range opts {
		o(a)
	}
	a.log = logx.Or(a.log)
	return a
}

// Key returns the key a read with prefix and params is stored under.
func (a *Aside) Key(prefix string, params keys.Params) string {
	return keys.Build(a.namespace, prefix, params)
}

// Namespace returns the key namespace.
func (a *Aside) Namespace() string {
	return a.namespace
}

// Store returns the underlying shared store.
func (a *Aside) Store() kv.Store {
	return a.store
}

// Delete removes keys from the near-cache and the shared store. It satisfies
// [kv.Deleter] so invalidation also reaches the local L1.
func (a *Aside) Delete(ctx context.Context, keys ...string) (int64, error) {
	if a.l1 != nil {
		a.l1.Delete(keys...)
	}
	return a.store.Delete(ctx, keys...)
}

func (a *Aside) degrade(ctx context.Context, op, key string, err error) kv.Outcome {
	a.metrics.DegradedStep(op)
	a.sampler.Warn(ctx, a.log, "cache degraded, serving without it",
		slog.String("op", op), slog.String("key", key), logx.Err(err))
	return kv.Degrade(err)
}

func (a *Aside) l1Get(key string) ([]byte, bool) {
	if a.l1 == nil {
		return nil, false
	}
	return a.l1.Get(key)
}

func (a *Aside) l1Set(key string, b []byte, ttl time.Duration) {
	if a.l1 == nil {
		return
	}
	if ttl <= 0 || ttl > a.l1TTL {
		ttl = a.l1TTL
	}
	a.l1.Set(key, b, ttl)
}
