// Package ctxkeys holds the shared context keys for the API layer.
// A leaf package so api, middleware, and handlers can all import it
// without cycles.
package ctxkeys

import "context"

// Key is the named type for all API context keys. context.Value compares
// type and value, so a named type cannot collide with other packages'
// string keys.
type Key string

const (
	// UserID identifies the authenticated user, injected from JWT claims.
	UserID Key = "user_id"

	// TokenID is the jti of the presented token, used for revocation.
	TokenID Key = "token_id"

	// TokenType is the "typ" claim of the presented token.
	TokenType Key = "token_type"
)

// WithValue adds a ctxkeys.Key value to the context.
func WithValue(ctx context.Context, key Key, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// Value reads a ctxkeys.Key string from the context, empty when absent.
func Value(ctx context.Context, key Key) string {
	v, _ := ctx.Value(key).(string)
	return v
}
