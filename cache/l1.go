package cache

import (
	"bytes"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// avgEntrySize sizes ristretto's admission counters for a byte budget.
const avgEntrySize = 256

// L1 is an optional in-process near-cache backed by ristretto. It only ever
// holds copies of shared-store entries, and [Aside.Delete] clears it along
// with the shared store. Other instances' L1s are not reached, so the L1 TTL
// bounds how stale a peer can be after an invalidation.
type L1 struct {
	rc *ristretto.Cache[string, []byte]
}

// NewL1 creates a near-cache holding at most maxBytes of encoded entries.
// An entry larger than the whole budget is never admitted.
func NewL1(maxBytes int64) (*L1, error) {
	counters := max(maxBytes/avgEntrySize*10, 1000)
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        counters,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &L1{rc: rc}, nil
}

// Get returns a copy of the entry so callers may decode in place.
func (l *L1) Get(key string) ([]byte, bool) {
	v, ok := l.rc.Get(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

// Set stores val for ttl, costed by its length. It waits for the write to be
// applied so that a following Get observes it.
func (l *L1) Set(key string, val []byte, ttl time.Duration) {
	l.rc.SetWithTTL(key, bytes.Clone(val), int64(len(val)), ttl)
	l.rc.Wait()
}

// Delete drops keys from the near-cache.
func (l *L1) Delete(keys ...string) {
	for _, k := range keys {
		l.rc.Del(k)
	}
	l.rc.Wait()
}

// Clear drops every entry, e.g. after the shared store was flushed.
func (l *L1) Clear() {
	l.rc.Clear()
}

// Close stops ristretto's background goroutines.
func (l *L1) Close() {
	l.rc.Close()
}
