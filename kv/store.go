// Package kv defines the small operation set the consistency layer needs from
// a key-value store, and a Redis implementation of it.
package kv

import (
	"context"
	"errors"
	"time"
)

// TTL sentinels returned by [Store.TTL], matching Redis semantics.
const (
	// NoExpiry means the key exists but carries no TTL.
	NoExpiry time.Duration = -1
	// Missing means the key does not exist.
	Missing time.Duration = -2
)

// ErrCircuitOpen is returned by a circuit-wrapped store while calls are being
// short-circuited.
var ErrCircuitOpen = errors.New("kv: circuit open")

// Store is the key-value contract. Every method is a single store command and
// is individually atomic; nothing spans more than one command.
type Store interface {
	// Get returns the value for key. The boolean reports whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Delete removes keys and returns how many existed. No keys is a no-op.
	Delete(ctx context.Context, keys ...string) (int64, error)

	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime, or NoExpiry / Missing.
	TTL(ctx context.Context, key string) (time.Duration, error)

	ListPushFront(ctx context.Context, key, value string) (int64, error)
	// ListRemove removes every occurrence of value.
	ListRemove(ctx context.Context, key, value string) (int64, error)
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// Deleter is the subset of [Store] needed for invalidation.
type Deleter interface {
	Delete(ctx context.Context, keys ...string) (int64, error)
}

// Outcome reports how an auxiliary key-value step finished. A degraded
// outcome means the step was skipped and the caller carried on without it;
// it is never a reason to fail the primary action.
type Outcome struct {
	Err error
}

// OK is the outcome of a step that reached the store.
func OK() Outcome { return Outcome{} }

// Degrade wraps the store error that caused a step to be skipped.
func Degrade(err error) Outcome { return Outcome{Err: err} }

// Degraded reports whether the step was skipped.
func (o Outcome) Degraded() bool { return o.Err != nil }

// Join keeps the first degradation seen across several steps.
func (o Outcome) Join(other Outcome) Outcome {
	if o.Err != nil {
		return o
	}
	return other
}
