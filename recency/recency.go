// Package recency keeps short most-recent-first id lists in the key-value
// store, such as the latest registered or latest active users.
//
// A touch is three separate commands (remove, push, trim) and is not atomic.
// Concurrent touches may briefly leave a duplicate or an extra member, which
// the next trim or read repairs. Readers are expected to tolerate ids that no
// longer resolve and to call [List.Remove] for them.
package recency

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/metrics"
)

// DefaultCapacity is the number of ids a list keeps unless overridden.
const DefaultCapacity = 10

// List is one bounded recency list.
type List struct {
	store kv.Store
	key   string
	cap   int

	log     *slog.Logger
	sampler *logx.Sampler
	metrics *metrics.Metrics
}

type Option func(*List)

// WithCapacity bounds the list to n ids. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(l *List) {
		if n > 0 {
			l.cap = n
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *List) { l.log = lg }
}

func WithSampler(s *logx.Sampler) Option {
	return func(l *List) { l.sampler = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *List) { l.metrics = m }
}

// New returns a list stored under key.
func New(store kv.Store, key string, opts ...Option) *List {
	l := &List{store: store, key: key, cap: DefaultCapacity}
	for _, o := range opts {
		o(l)
	}
	l.log = logx.Or(l.log)
	return l
}

// Key returns the backing store key.
func (l *List) Key() string { return l.key }

// Capacity returns the maximum list length.
func (l *List) Capacity() int { return l.cap }

// Touch moves id to the front, dropping any earlier occurrence and trimming
// the tail beyond capacity.
func (l *List) Touch(ctx context.Context, id int64) kv.Outcome {
	member := strconv.FormatInt(id, 10)
	if _, err := l.store.ListRemove(ctx, l.key, member); err != nil {
		return l.degrade(ctx, "recency.remove", err)
	}
	if _, err := l.store.ListPushFront(ctx, l.key, member); err != nil {
		return l.degrade(ctx, "recency.push", err)
	}
	if err := l.store.ListTrim(ctx, l.key, 0, int64(l.cap-1)); err != nil {
		return l.degrade(ctx, "recency.trim", err)
	}
	return kv.OK()
}

// Read returns the ids most recent first. Members that do not parse as ids
// are dropped from the result and removed from the list.
func (l *List) Read(ctx context.Context) ([]int64, kv.Outcome) {
	members, err := l.store.ListRange(ctx, l.key, 0, int64(l.cap-1))
	if err != nil {
		return nil, l.degrade(ctx, "recency.read", err)
	}
	ids := make([]int64, 0, len(members))
	var out kv.Outcome
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			l.metrics.Dangling(l.key)
			if _, rerr := l.store.ListRemove(ctx, l.key, m); rerr != nil {
				out = out.Join(l.degrade(ctx, "recency.remove", rerr))
			}
			continue
		}
		ids = append(ids, id)
	}
	return ids, out
}

// Remove drops every occurrence of id.
func (l *List) Remove(ctx context.Context, id int64) kv.Outcome {
	if _, err := l.store.ListRemove(ctx, l.key, strconv.FormatInt(id, 10)); err != nil {
		return l.degrade(ctx, "recency.remove", err)
	}
	return kv.OK()
}

func (l *List) degrade(ctx context.Context, op string, err error) kv.Outcome {
	l.metrics.DegradedStep(op)
	l.sampler.Warn(ctx, l.log, "recency list degraded", "op", op, "key", l.key, logx.Err(err))
	return kv.Degrade(err)
}
