package rawrcache

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/retry"
)

// Option configures a Stack.
type Option func(*config)

// WithNamespace sets the prefix of every cache key. Defaults to "cache".
func WithNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// WithOpTimeout bounds every Redis command. Defaults to 250ms.
func WithOpTimeout(d time.Duration) Option {
	return func(c *config) {
		c.opTimeout = d
	}
}

// WithCircuit wraps Redis in a circuit breaker so a failing store is skipped
// without waiting for a timeout on every call.
func WithCircuit(cfg kv.CircuitConfig) Option {
	return func(c *config) {
		c.circuit = &cfg
	}
}

// WithTxRetry makes units of work from [Stack.UnitOfWork] re-run
// transactions that fail with an error cfg.Retryable accepts.
func WithTxRetry(cfg retry.Config) Option {
	return func(c *config) {
		c.txRetry = &cfg
	}
}

// WithL1 enables an in-process near-cache bounded to maxCost bytes. Entries
// live at most ttl in it.
//
// A near-cache hit does not consult Redis, and invalidations only clear the
// local near-cache. A write made through another instance can therefore be
// invisible here for up to ttl. Leave it off when every reader must observe
// a committed write at once.
func WithL1(maxCost int64, ttl time.Duration) Option {
	return func(c *config) {
		c.l1MaxCost = maxCost
		c.l1TTL = ttl
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithLogThrottle limits degradation warnings to perSecond with the given
// burst. A zero rate logs every warning.
func WithLogThrottle(perSecond float64, burst int) Option {
	return func(c *config) {
		c.logPerSecond = perSecond
		c.logBurst = burst
	}
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = tp
	}
}

// WithDevID marks the developer account; it registers with the DEV role.
func WithDevID(id int64) Option {
	return func(c *config) {
		c.devID = id
	}
}

// WithLocales sets the supported user languages and the fallback.
func WithLocales(def string, supported ...string) Option {
	return func(c *config) {
		c.defaultLocale = def
		c.locales = supported
	}
}

// WithSpamGuard tunes the /start spam guard.
func WithSpamGuard(window time.Duration, threshold int64) Option {
	return func(c *config) {
		c.spamWindow = window
		c.spamThreshold = threshold
	}
}
