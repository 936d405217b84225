package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/keys"
	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/tracing"
)

// envelope is the stored form of a result. Found=false is the cached
// "no such entity" marker.
type envelope[T any] struct {
	Found bool `json:"found"`
	Value T    `json:"value"`
}

// Read returns compute's result through the cache. compute must be
// deterministic for (prefix, params); its error is returned as-is and never
// cached.
func Read[T any](ctx context.Context, a *Aside, prefix string, params keys.Params, ttl time.Duration, compute func(context.Context) (T, error)) (Result[T], error) {
	return read(ctx, a, prefix, params, ttl, func(ctx context.Context) (T, bool, error) {
		v, err := compute(ctx)
		return v, err == nil, err
	})
}

// Lookup is [Read] for computations that may find nothing. A nil result is
// cached as absent, so repeated lookups of a missing entity stay off the
// relational store until the entry expires or is invalidated.
func Lookup[T any](ctx context.Context, a *Aside, prefix string, params keys.Params, ttl time.Duration, compute func(context.Context) (*T, error)) (Result[*T], error) {
	return read(ctx, a, prefix, params, ttl, func(ctx context.Context) (*T, bool, error) {
		v, err := compute(ctx)
		return v, v != nil, err
	})
}

func read[T any](ctx context.Context, a *Aside, prefix string, params keys.Params, ttl time.Duration, compute func(context.Context) (T, bool, error)) (res Result[T], err error) {
	key := a.Key(prefix, params)

	ctx, span := a.tracing.Start(ctx, "cache.Read", attribute.String("cache.key", key))
	defer func() {
		span.SetAttributes(
			attribute.String("cache.source", res.Source.String()),
			attribute.Bool("cache.degraded", res.Outcome.Degraded()),
		)
		tracing.End(span, err)
		if err == nil {
			a.metrics.CacheRequest(prefix, res.Source.String())
		}
	}()

	if b, ok := a.l1Get(key); ok {
		if env, derr := decode[T](b); derr == nil {
			return Result[T]{Value: env.Value, Found: env.Found, Source: Hit}, nil
		}
	}

	b, ok, gerr := a.store.Get(ctx, key)
	if gerr != nil {
		outcome := a.degrade(ctx, "cache_get", key, gerr)
		v, found, cerr := compute(ctx)
		if cerr != nil {
			return Result[T]{Source: Bypass, Outcome: outcome}, cerr
		}
		return Result[T]{Value: v, Found: found, Source: Bypass, Outcome: outcome}, nil
	}

	if ok {
		env, derr := decode[T](b)
		if derr == nil {
			a.l1Set(key, b, ttl)
			return Result[T]{Value: env.Value, Found: env.Found, Source: Hit}, nil
		}
		logx.With(ctx, a.log).WarnContext(ctx, "undecodable cache entry, recomputing",
			slog.String("key", key), logx.Err(derr))
	}

	v, found, cerr := compute(ctx)
	if cerr != nil {
		return Result[T]{}, cerr
	}
	res = Result[T]{Value: v, Found: found, Source: Miss}

	enc, eerr := json.Marshal(envelope[T]{Found: found, Value: v})
	if eerr != nil {
		res.Outcome = a.degrade(ctx, "cache_encode", key, eerr)
		return res, nil
	}
	if serr := a.store.Set(ctx, key, enc, ttl); serr != nil {
		res.Outcome = a.degrade(ctx, "cache_set", key, serr)
		return res, nil
	}
	a.l1Set(key, enc, ttl)
	return res, nil
}

func decode[T any](b []byte) (envelope[T], error) {
	var env envelope[T]
	err := json.Unmarshal(b, &env)
	return env, err
}

// Degraded reports whether a cache step was skipped for this read.
func (r Result[T]) Degraded() bool {
	return r.Outcome.Degraded()
}

var _ kv.Deleter = (*Aside)(nil)
