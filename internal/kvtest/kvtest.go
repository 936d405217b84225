// Package kvtest spins up an in-memory Redis for package tests.
package kvtest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Keksclan/rawrcache/kv"
)

// New starts a miniredis server bound to t and returns a store talking to it.
// Outages are simulated with mr.SetError, expiry with mr.FastForward.
func New(t *testing.T, opts ...kv.Option) (*kv.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := kv.NewRedis(rdb, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}
