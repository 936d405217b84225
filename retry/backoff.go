package retry

import (
	"math/rand/v2"
	"time"
)

// backoff returns the wait before retry number attempt (0-indexed):
// BaseDelay doubled per attempt, capped at MaxDelay, then spread by ±Jitter.
func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.BaseDelay
	for range attempt {
		d *= 2
		if cfg.MaxDelay > 0 && d >= cfg.MaxDelay {
			break
		}
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		d += time.Duration(float64(d) * cfg.Jitter * (rand.Float64()*2 - 1))
	}
	return max(d, 0)
}
