package auth

import (
	"context"

	"casevault/backend/pkg/models"
)

type contextKey int

const identityKey contextKey = iota

type identity struct {
	principal models.Principal
	scopes    []string
}

// WithPrincipal returns a copy of ctx carrying the authenticated principal
// and the scopes granted to its token.
func WithPrincipal(ctx context.Context, principal models.Principal, scopes ...string) context.Context {
	return context.WithValue(ctx, identityKey, identity{principal: principal, scopes: scopes})
}

// PrincipalFrom returns the principal stored by RequireAuth.
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	id, ok := ctx.Value(identityKey).(identity)
	return id.principal, ok
}

// ScopesFrom returns the scopes granted to the request's token.
func ScopesFrom(ctx context.Context) []string {
	id, _ := ctx.Value(identityKey).(identity)
	return id.scopes
}
