// Package guard implements a fixed-window counter that flags subjects
// repeating an action too often, such as a user spamming /start.
//
// The counter only grows and is reset by key expiry. The guard fails open:
// when the store is unreachable a subject is never reported as exceeding the
// threshold.
package guard

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/keys"
	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/metrics"
)

const (
	DefaultWindow    = 10 * time.Second
	DefaultThreshold = 5
)

// Decision is the result of one [Guard.Increment].
type Decision struct {
	// Count is the number of increments in the current window. Zero when the
	// store could not be reached.
	Count int64
	// Exceeded reports Count >= threshold.
	Exceeded bool
	Outcome  kv.Outcome
}

// Guard counts actions per subject.
type Guard struct {
	store     kv.Store
	window    time.Duration
	threshold int64
	prefix    string

	log     *slog.Logger
	sampler *logx.Sampler
	metrics *metrics.Metrics
}

type Option func(*Guard)

// WithWindow sets the counter lifetime.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithThreshold sets the count at which a subject is flagged.
func WithThreshold(n int64) Option {
	return func(g *Guard) {
		if n > 0 {
			g.threshold = n
		}
	}
}

// WithPrefix sets the key prefix counters are stored under.
func WithPrefix(p string) Option {
	return func(g *Guard) {
		g.prefix = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.log = l }
}

func WithSampler(s *logx.Sampler) Option {
	return func(g *Guard) { g.sampler = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// New creates a guard with a 10s window and a threshold of 5 unless
// overridden.
func New(store kv.Store, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		prefix:    keys.StartSpamGuard,
	}
	for _, o := range opts {
		o(g)
	}
	g.log = logx.Or(g.log)
	return g
}

// Key returns the counter key for subject.
func (g *Guard) Key(subject int64) string {
	return keys.Join(g.prefix, strconv.FormatInt(subject, 10))
}

// Increment counts one action by subject.
//
// The first increment in a window arms the expiry. Later increments check
// the TTL and re-arm it if it was lost, so a counter can never outlive its
// window indefinitely.
func (g *Guard) Increment(ctx context.Context, subject int64) Decision {
	key := g.Key(subject)

	n, err := g.store.Incr(ctx, key)
	if err != nil {
		return g.failOpen(ctx, "guard.incr", key, err)
	}

	var out kv.Outcome
	if n == 1 {
		out = g.arm(ctx, key)
	} else {
		ttl, err := g.store.TTL(ctx, key)
		switch {
		case err != nil:
			out = g.degrade(ctx, "guard.ttl", key, err)
		case ttl == kv.NoExpiry:
			out = g.arm(ctx, key)
		}
	}

	d := Decision{Count: n, Exceeded: n >= g.threshold, Outcome: out}
	if d.Exceeded {
		g.metrics.GuardDecision("suppressed")
	} else {
		g.metrics.GuardDecision("allowed")
	}
	if n == g.threshold {
		logx.With(ctx, g.log).WarnContext(ctx, "spam threshold reached",
			"key", key, "count", n, "window", g.window)
	}
	return d
}

// Exceeded reports whether subject is at or over the threshold without
// counting an action.
func (g *Guard) Exceeded(ctx context.Context, subject int64) bool {
	key := g.Key(subject)
	b, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.degrade(ctx, "guard.get", key, err)
		return false
	}
	if !ok {
		return false
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return false
	}
	return n >= g.threshold
}

func (g *Guard) arm(ctx context.Context, key string) kv.Outcome {
	// A false result means the key expired between the two commands; the
	// next INCR starts a fresh window.
	if _, err := g.store.Expire(ctx, key, g.window); err != nil {
		return g.degrade(ctx, "guard.expire", key, err)
	}
	return kv.OK()
}

func (g *Guard) failOpen(ctx context.Context, op, key string, err error) Decision {
	g.metrics.GuardDecision("failed_open")
	return Decision{Outcome: g.degrade(ctx, op, key, err)}
}

func (g *Guard) degrade(ctx context.Context, op, key string, err error) kv.Outcome {
	g.metrics.DegradedStep(op)
	g.sampler.Warn(ctx, g.log, "spam guard degraded", "op", op, "key", key, logx.Err(err))
	return kv.Degrade(err)
}
