// Package metrics exposes Prometheus counters for the cache, invalidation,
// recency and spam-guard paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rawrcache"

// Metrics groups every collector. Construct it once per registry.
type Metrics struct {
	CacheRequests   *prometheus.CounterVec
	Degraded        *prometheus.CounterVec
	InvalidatedKeys *prometheus.CounterVec
	GuardDecisions  *prometheus.CounterVec
	RecencyDangling *prometheus.CounterVec
	Transactions    *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg creates unregistered
// collectors, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cached reads by prefix and source (hit, miss, bypass).",
		}, []string{"prefix", "source"}),
		Degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "Auxiliary key-value steps skipped because the store failed.",
		}, []string{"op"}),
		InvalidatedKeys: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_keys_total",
			Help:      "Keys sent to batched invalidation deletes.",
		}, []string{"entity"}),
		GuardDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Spam guard decisions (allowed, suppressed, failed_open).",
		}, []string{"result"}),
		RecencyDangling: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recency",
			Name:      "dangling_total",
			Help:      "Recency list members dropped because the entity is gone.",
		}, []string{"list"}),
		Transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "transactions_total",
			Help:      "Unit of work outcomes (commit, rollback).",
		}, []string{"result"}),
	}
}

func (m *Metrics) CacheRequest(prefix, source string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(prefix, source).Inc()
}

func (m *Metrics) DegradedStep(op string) {
	if m == nil {
		return
	}
	m.Degraded.WithLabelValues(op).Inc()
}

func (m *Metrics) Invalidated(entity string, n int) {
	if m == nil {
		return
	}
	m.InvalidatedKeys.WithLabelValues(entity).Add(float64(n))
}

func (m *Metrics) GuardDecision(result string) {
	if m == nil {
		return
	}
	m.GuardDecisions.WithLabelValues(result).Inc()
}

func (m *Metrics) Dangling(list string) {
	if m == nil {
		return
	}
	m.RecencyDangling.WithLabelValues(list).Inc()
}

func (m *Metrics) Transaction(result string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(result).Inc()
}
