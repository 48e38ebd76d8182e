package handlers

import "context"

type contextKey string

const callerContextKey contextKey = "caller"

// SetCallerInContext stores the authenticated user id for downstream handlers.
func SetCallerInContext(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, callerContextKey, userID)
}

// GetCallerFromContext returns the authenticated user id, or false for anonymous requests.
func GetCallerFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(callerContextKey).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}
