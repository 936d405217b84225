package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds every Redis round-trip unless overridden.
const DefaultOpTimeout = 250 * time.Millisecond

// Redis is a [Store] backed by go-redis. Unlike a fail-soft cache it reports
// every error; deciding to fail open is left to the consumers.
type Redis struct {
	rdb       redis.UniversalClient
	opTimeout time.Duration
}

// Option configures a Redis store.
type Option func(*Redis)

// WithOpTimeout bounds each command. A non-positive value disables the bound
// and relies on the caller's context alone.
func WithOpTimeout(d time.Duration) Option {
	return func(r *Redis) {
		r.opTimeout = d
	}
}

// NewRedis wraps an existing client.
func NewRedis(rdb redis.UniversalClient, opts ...Option) *Redis {
	r := &Redis{rdb: rdb, opTimeout: DefaultOpTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dial creates a client for a single Redis node and wraps it.
func Dial(addr, password string, db int, opts ...Option) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedis(rdb, opts...)
}

func (r *Redis) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

// Get retrieves a value. A missing key is (nil, false, nil).
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	val, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rdb.Set(ctx, key, val, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rdb.Del(ctx, keys...).Result()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rdb.Incr(ctx, key).Result()
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rdb.Expire(ctx, key, ttl).Result()
}

// TTL maps the Redis -1/-2 replies onto NoExpiry and Missing.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	d, err := r.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -1:
		return NoExpiry, nil
	case -2:
		return Missing, nil
	}
	return d, nil
}

func (r *Redis) ListPushFront(ctx context.Context, key, value string) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rdb.LPush(ctx, key, value).Result()
}

func (r *Redis) ListRemove(ctx context.Context, key, value string) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rdb.LRem(ctx, key, 0, value).Result()
}

func (r *Redis) ListTrim(ctx context.Context, key string, start, stop int64) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rdb.LTrim(ctx, key, start, stop).Err()
}

func (r *Redis) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rdb.LRange(ctx, key, start, stop).Result()
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
