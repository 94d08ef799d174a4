package session

import (
	"context"

	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
)

var errSessionRequired = apperrors.ErrUnauthenticated

type contextKey struct{}

// WithSessionID binds the authenticated session to ctx.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, sessionID)
}

// SessionIDFrom returns the session bound by WithSessionID.
func SessionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Identity resolves the current user from the request context. A session
// id is the user id.
type Identity struct{}

func (Identity) CurrentUserID(ctx context.Context) (string, bool) {
	return SessionIDFrom(ctx)
}
