package tools

import "context"

type sessionIDKey struct{}

// WithSessionID returns a context carrying the active chat session id.
// The turn loop sets it before executing tools so handlers that need
// session data (like the preference extractor's transcript loader)
// can find it.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionID extracts the session id set by WithSessionID.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok && id != ""
}
