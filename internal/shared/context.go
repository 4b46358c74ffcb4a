package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession attaches the tab session loaded by the session middleware.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the tab session, or nil outside the middleware.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// TabIDFromContext returns the id of the tab session, which keys the tab's
// gate. Destroyed sessions report no id.
func TabIDFromContext(ctx context.Context) (string, bool) {
	sess := SessionFromContext(ctx)
	if sess == nil || sess.destroyed || sess.ID == "" {
		return "", false
	}
	return sess.ID, true
}
