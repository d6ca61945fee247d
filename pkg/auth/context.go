package auth

import "context"

// principalKey is a private type for the principal context key.
type principalKey struct{}

// SetPrincipal stores the authenticated principal in the context. The
// value is copied, so later changes by the caller are not visible to
// handlers.
func SetPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal.
// The boolean is false for requests that did not pass through the gate.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
