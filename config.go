package rawrcache

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/retry"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	namespace string
	opTimeout time.Duration

	circuit *kv.CircuitConfig
	txRetry *retry.Config

	l1MaxCost int64
	l1TTL     time.Duration

	logger         *slog.Logger
	logPerSecond   float64
	logBurst       int
	registry       *prometheus.Registry
	tracerProvider trace.TracerProvider

	devID         int64
	defaultLocale string
	locales       []string

	spamWindow    time.Duration
	spamThreshold int64
}
