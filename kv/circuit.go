package kv

import (
	"context"
	"sync"
	"time"
)

// CircuitState is the state of a circuit-wrapped store.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitConfig holds the trip parameters.
type CircuitConfig struct {
	// Failures is the number of consecutive store errors that open the
	// circuit.
	Failures int
	// Cooldown is how long the circuit stays open before letting a probe
	// through.
	Cooldown time.Duration
	// Probes is the number of consecutive successful probes needed to close
	// the circuit again.
	Probes int
}

// DefaultCircuitConfig trips after five straight failures and probes again
// after five seconds.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{Failures: 5, Cooldown: 5 * time.Second, Probes: 1}
}

// CircuitStore short-circuits an unhealthy store so that fail-open callers
// stop paying a timeout per command. It is safe for concurrent use.
type CircuitStore struct {
	next Store
	cfg  CircuitConfig

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	inflight  int
	openedAt  time.Time
	now       func() time.Time
}

// WithCircuit wraps next in a circuit breaker.
func WithCircuit(next Store, cfg CircuitConfig) *CircuitStore {
	if cfg.Failures <= 0 {
		cfg.Failures = 1
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &CircuitStore{next: next, cfg: cfg, now: time.Now}
}

// State returns the current state, moving Open to HalfOpen once the cooldown
// has elapsed.
func (c *CircuitStore) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cool()
	return c.state
}

// allow reports whether a call may reach the store. In half-open state at
// most Probes calls are let through, counting those still running; probe is
// true for them and must be handed back to record.
func (c *CircuitStore) allow() (probe, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cool()
	switch c.state {
	case CircuitClosed:
		return false, true
	case CircuitHalfOpen:
		if c.successes+c.inflight >= c.cfg.Probes {
			return false, false
		}
		c.inflight++
		return true, true
	default:
		return false, false
	}
}

// record reports err back to the state machine and passes it through.
// Context cancellation by the caller says nothing about store health.
func (c *CircuitStore) record(ctx context.Context, probe bool, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if probe && c.inflight > 0 {
		c.inflight--
	}
	if err != nil && ctx.Err() != nil {
		return err
	}

	if err == nil {
		switch c.state {
		case CircuitClosed:
			c.failures = 0
		case CircuitHalfOpen:
			c.successes++
			if c.successes >= c.cfg.Probes {
				c.state = CircuitClosed
				c.failures = 0
				c.successes = 0
			}
		}
		return nil
	}

	switch c.state {
	case CircuitClosed:
		c.failures++
		if c.failures >= c.cfg.Failures {
			c.open()
		}
	case CircuitHalfOpen:
		c.open()
	}
	return err
}

// cool must be called with c.mu held.
func (c *CircuitStore) cool() {
	if c.state == CircuitOpen && c.now().Sub(c.openedAt) >= c.cfg.Cooldown {
		c.state = CircuitHalfOpen
		c.successes = 0
		c.inflight = 0
	}
}

func (c *CircuitStore) open() {
	c.state = CircuitOpen
	c.openedAt = c.now()
	c.successes = 0
	c.inflight = 0
}

func (c *CircuitStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	probe, ok := c.allow()
	if !ok {
		return nil, false, ErrCircuitOpen
	}
	v, ok, err := c.next.Get(ctx, key)
	return v, ok, c.record(ctx, probe, err)
}

func (c *CircuitStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	probe, ok := c.allow()
	if !ok {
		return ErrCircuitOpen
	}
	return c.record(ctx, probe, c.next.Set(ctx, key, val, ttl))
}

func (c *CircuitStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	probe, ok := c.allow()
	if !ok {
		return 0, ErrCircuitOpen
	}
	n, err := c.next.Delete(ctx, keys...)
	return n, c.record(ctx, probe, err)
}

func (c *CircuitStore) Incr(ctx context.Context, key string) (int64, error) {
	probe, ok := c.allow()
	if !ok {
		return 0, ErrCircuitOpen
	}
	n, err := c.next.Incr(ctx, key)
	return n, c.record(ctx, probe, err)
}

func (c *CircuitStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	probe, ok := c.allow()
	if !ok {
		return false, ErrCircuitOpen
	}
	ok, err := c.next.Expire(ctx, key, ttl)
	return ok, c.record(ctx, probe, err)
}

func (c *CircuitStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	probe, ok := c.allow()
	if !ok {
		return 0, ErrCircuitOpen
	}
	d, err := c.next.TTL(ctx, key)
	return d, c.record(ctx, probe, err)
}

func (c *CircuitStore) ListPushFront(ctx context.Context, key, value string) (int64, error) {
	probe, ok := c.allow()
	if !ok {
		return 0, ErrCircuitOpen
	}
	n, err := c.next.ListPushFront(ctx, key, value)
	return n, c.record(ctx, probe, err)
}

func (c *CircuitStore) ListRemove(ctx context.Context, key, value string) (int64, error) {
	probe, ok := c.allow()
	if !ok {
		return 0, ErrCircuitOpen
	}
	n, err := c.next.ListRemove(ctx, key, value)
	return n, c.record(ctx, probe, err)
}

func (c *CircuitStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	probe, ok := c.allow()
	if !ok {
		return ErrCircuitOpen
	}
	return c.record(ctx, probe, c.next.ListTrim(ctx, key, start, stop))
}

func (c *CircuitStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	probe, ok := c.allow()
	if !ok {
		return nil, ErrCircuitOpen
	}
	vals, err := c.next.ListRange(ctx, key, start, stop)
	return vals, c.record(ctx, probe, err)
}
