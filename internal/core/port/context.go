package port

import (
	"context"

	"github.com/speakeasy-api/clerk-gate/internal/core/domain"
)

type contextKey int

const authStateKey contextKey = iota

// ContextWithAuth attaches the request's AuthState to the context.
func ContextWithAuth(ctx context.Context, state domain.AuthState) context.Context {
	return context.WithValue(ctx, authStateKey, state)
}

// AuthFromContext extracts the AuthState from the context.
// The second return is false when the gate has not evaluated the request.
func AuthFromContext(ctx context.Context) (domain.AuthState, bool) {
	state, ok := ctx.Value(authStateKey).(domain.AuthState)
	return state, ok
}

// IdentityFromContext returns the verified identity, or nil.
func IdentityFromContext(ctx context.Context) *domain.Identity {
	state, ok := AuthFromContext(ctx)
	if !ok || !state.Authenticated() {
		return nil
	}
	return state.Identity
}
