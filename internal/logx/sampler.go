package logx

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Sampler lets warnings through a token bucket so that a store outage logs a
// steady trickle instead of one line per request. Dropped lines are counted
// and reported on the next line that passes.
type Sampler struct {
	lim        *rate.Limiter
	suppressed atomic.Int64
}

// NewSampler permits perSecond lines per second with the given burst.
func NewSampler(perSecond float64, burst int) *Sampler {
	return &Sampler{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// DefaultSampler allows one line per second with a burst of five.
func DefaultSampler() *Sampler {
	return NewSampler(1, 5)
}

// Warn logs msg at warn level if the bucket has a token. A nil Sampler logs
// every line.
func (s *Sampler) Warn(ctx context.Context, l *slog.Logger, msg string, args ...any) {
	if s != nil {
		if !s.lim.Allow() {
			s.suppressed.Add(1)
			return
		}
		if n := s.suppressed.Swap(0); n > 0 {
			args = append(args, slog.Int64("suppressed", n))
		}
	}
	With(ctx, l).WarnContext(ctx, msg, args...)
}

// Suppressed returns the number of lines dropped since the last one logged.
func (s *Sampler) Suppressed() int64 {
	return s.suppressed.Load()
}
