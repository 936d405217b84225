// Package contextx carries per-event values (request id, acting user) through
// a context so that log lines from every layer can be correlated.
package contextx

// contextKey is an unexported type used as context key to avoid collisions
// with keys defined in other packages.
type contextKey int

const (
	requestIDKey contextKey = iota
	subjectKey
)
