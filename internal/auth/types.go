// Package auth authenticates API callers with a static bearer token or an
// HS256 JWT whose subject becomes the session owner.
package auth

import "context"

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserContextKey is the context key for user information
	UserContextKey ContextKey = "user"
)

// Token types recorded on a UserContext.
const (
	TokenTypeStatic = "static"
	TokenTypeJWT    = "jwt"
)

// UserContext identifies an authenticated caller. UserID is empty for the
// static token, which is not tied to a user.
type UserContext struct {
	UserID    string
	TokenType string
}

// WithUser returns ctx carrying u.
func WithUser(ctx context.Context, u *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, u)
}

// GetUserContext extracts user context from context
func GetUserContext(ctx context.Context) (*UserContext, bool) {
	u, ok := ctx.Value(UserContextKey).(*UserContext)
	return u, ok && u != nil
}

// UserID returns the authenticated user id, or "".
func UserID(ctx context.Context) string {
	if u, ok := GetUserContext(ctx); ok {
		return u.UserID
	}
	return ""
}
