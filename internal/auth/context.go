package auth

import (
	"context"
	"errors"
)

type contextKey struct{}

// principalKey is the context key for the verified principal
var principalKey = contextKey{}

var (
	// ErrNoPrincipalInContext is returned when no principal is found in context
	ErrNoPrincipalInContext = errors.New("no authenticated principal in context")
)

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the verified principal from request context
func PrincipalFromContext(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok || p == nil {
		return nil, ErrNoPrincipalInContext
	}
	return p, nil
}

// MustPrincipalFromContext panics if no principal in context (use after RequireAuth)
func MustPrincipalFromContext(ctx context.Context) *Principal {
	p, err := PrincipalFromContext(ctx)
	if err != nil {
		panic("expected authenticated principal in context")
	}
	return p
}
