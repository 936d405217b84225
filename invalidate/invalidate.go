// Package invalidate deletes an entity's cached copy together with every
// derived aggregate key of its type, in one batched delete.
//
// The aggregate registry is conservative: every write clears every aggregate
// of the collection, whether or not the write could have changed it.
package invalidate

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/keys"
	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/tracing"
)

// Template names one cached operation and its fixed parameters.
type Template struct {
	Operation string
	Params    keys.Params
}

// Spec is the static invalidation table of one entity type.
type Spec struct {
	// Entity labels logs and metrics.
	Entity string
	// Direct is the per-entity read; IDParam receives the entity id.
	Direct  Template
	IDParam string
	// Aggregates are cleared on every write to the collection.
	Aggregates []Template
}

// Invalidator applies one Spec against a store.
type Invalidator struct {
	del       kv.Deleter
	namespace string
	spec      Spec

	log     *slog.Logger
	metrics *metrics.Metrics
	tracing *tracing.Config
}

// Option configures an Invalidator.
type Option func(*Invalidator)

func WithLogger(l *slog.Logger) Option {
	return func(i *Invalidator) {
		i.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Invalidator) {
		i.metrics = m
	}
}

func WithTracing(cfg *tracing.Config) Option {
	return func(i *Invalidator) {
		i.tracing = cfg
	}
}

// New creates an Invalidator. namespace must match the one reads are cached
// under.
func New(del kv.Deleter, namespace string, spec Spec, opts ...Option) *Invalidator {
	i := &Invalidator{del: del, namespace: namespace, spec: spec}
	for _, o := range opts {
		o(i)
	}
	i.log = logx.Or(i.log)
	return i
}

// Keys returns every key Invalidate(ids...) would delete: the direct key of
// each id followed by the aggregate registry.
func (i *Invalidator) Keys(ids ...int64) []string {
	out := make([]string, 0, len(ids)+len(i.spec.Aggregates))
	if i.spec.Direct.Operation != "" {
		for _, id := range ids {
			params := keys.Params{i.spec.IDParam: id}
			for k, v := range i.spec.Direct.Params {
				params[k] = v
			}
			out = append(out, keys.Build(i.namespace, i.spec.Direct.Operation, params))
		}
	}
	for _, tpl := range i.spec.Aggregates {
		out = append(out, keys.Build(i.namespace, tpl.Operation, tpl.Params))
	}
	return out
}

// Invalidate deletes the direct keys of ids and the whole aggregate registry
// in a single call. With no ids only aggregates are cleared. Missing keys
// are fine. A store failure is logged and reported as a degraded outcome.
func (i *Invalidator) Invalidate(ctx context.Context, ids ...int64) kv.Outcome {
	ks := i.Keys(ids...)
	if len(ks) == 0 {
		return kv.OK()
	}

	ctx, span := i.tracing.Start(ctx, "invalidate.Invalidate",
		attribute.String("entity", i.spec.Entity),
		attribute.Int("keys", len(ks)),
	)
	n, err := i.del.Delete(ctx, ks...)
	tracing.End(span, err)

	log := logx.With(ctx, i.log)
	if err != nil {
		i.metrics.DegradedStep("invalidate")
		log.WarnContext(ctx, "cache invalidation failed",
			slog.String("entity", i.spec.Entity), slog.Int("keys", len(ks)), logx.Err(err))
		return kv.Degrade(err)
	}

	i.metrics.Invalidated(i.spec.Entity, len(ks))
	log.DebugContext(ctx, "cache keys invalidated",
		slog.String("entity", i.spec.Entity), slog.Int("keys", len(ks)), slog.Int64("existed", n))
	return kv.OK()
}
