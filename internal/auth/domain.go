package auth

import (
	"context"

	"github.com/odyssey-erp/collect/internal/shared"
)

// IdentityResolver exchanges a bearer token for the user behind it. Rejected
// tokens return shared.ErrUnauthenticated.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (shared.Principal, error)
}
