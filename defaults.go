package rawrcache

import (
	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/retry"
)

// DefaultOptions returns the recommended set of options for production use.
// Currently this wraps Redis in a circuit breaker, throttles degradation
// warnings and retries transactions that lost a lock conflict.
func DefaultOptions() []Option {
	return []Option{
		WithCircuit(kv.DefaultCircuitConfig()),
		WithLogThrottle(1, 5),
		WithTxRetry(retry.TxDefault()),
	}
}
