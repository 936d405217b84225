package contextx

import "context"

// WithSubject records the telegram id of the user an event belongs to.
func WithSubject(ctx context.Context, telegramID int64) context.Context {
	return context.WithValue(ctx, subjectKey, telegramID)
}

// SubjectFromContext returns the telegram id stored by [WithSubject].
func SubjectFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(subjectKey).(int64)
	return id, ok
}
