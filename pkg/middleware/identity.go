// pkg/middleware/identity.go
package middleware

import (
	"context"

	"matchday/pkg/tokens"
)

type identityCtxKey struct{}
type scopeCtxKey struct{}

// Scope records which rule admitted a request, for audit logging.
type Scope string

const (
	ScopePlatform Scope = "platform"
	ScopeTenant   Scope = "tenant"
	ScopeInternal Scope = "internal"
)

// WithIdentity stores the verified identity in context.
func WithIdentity(ctx context.Context, id tokens.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFrom extracts the verified identity from context.
func IdentityFrom(ctx context.Context) (tokens.Identity, bool) {
	v, ok := ctx.Value(identityCtxKey{}).(tokens.Identity)
	return v, ok
}

// WithMatchedScope stores which scope rule admitted the request.
func WithMatchedScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

// MatchedScopeFrom extracts the admitting scope from context.
func MatchedScopeFrom(ctx context.Context) Scope {
	if v, ok := ctx.Value(scopeCtxKey{}).(Scope); ok {
		return v
	}
	return ""
}
