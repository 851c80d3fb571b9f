package clients

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID returns a context carrying the acting user's id.
// Outbound requests propagate it as the X-User-ID header.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the acting user's id from the context
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
