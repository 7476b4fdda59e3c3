package auth

import (
	"context"
	"slices"
	"strings"
)

// Principal is the identity established from a verified access token.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

// HasRole reports whether the principal holds role (case-insensitive).
func (p Principal) HasRole(role string) bool {
	return slices.ContainsFunc(p.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

type principalKey struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the HTTP authentication
// middleware. A principal without a user id counts as absent.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}

// UserIDFromContext is shorthand for the principal's user id; handlers use it
// as the audit actor.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.UserID, ok
}
