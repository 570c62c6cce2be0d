package shared

import "context"

// Principal is the authenticated collector behind a request.
type Principal struct {
	UserID        string `json:"id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	DistributorID string `json:"distributor_id,omitempty"`
	// Token is forwarded to the backend on the principal's behalf.
	Token string `json:"-"`
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
