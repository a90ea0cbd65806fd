package interceptors

import "context"

type contextKey struct{ name string }

var (
	principalIDKey = contextKey{"principal_id"}
	sessionIDKey   = contextKey{"session_id"}
)

// WithIdentity returns a context carrying the authorized principal and session ids.
func WithIdentity(ctx context.Context, principalID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, principalIDKey, principalID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetPrincipalID returns the principal_id from context and true if set; otherwise "", false.
func GetPrincipalID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalIDKey).(string)
	return v, ok
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok
}
