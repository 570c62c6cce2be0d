package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/odyssey-erp/collect/internal/shared"
)

type identityWire struct {
	ID            wireID `json:"id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	DistributorID wireID `json:"distributor_id"`
}

// ResolveIdentity looks up the user behind token. Rejected tokens return
// shared.ErrUnauthenticated.
func (c *Client) ResolveIdentity(ctx context.Context, token string) (shared.Principal, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		return shared.Principal{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var payload identityWire
	if err := do(c.httpClient, req, &payload); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && (statusErr.Status == http.StatusUnauthorized || statusErr.Status == http.StatusForbidden) {
			return shared.Principal{}, shared.ErrUnauthenticated
		}
		return shared.Principal{}, fmt.Errorf("backend: resolve identity: %w", err)
	}
	if payload.ID == "" {
		return shared.Principal{}, fmt.Errorf("backend: resolve identity: %w", ErrUnexpectedResponse)
	}
	return shared.Principal{
		UserID:        string(payload.ID),
		Name:          payload.Name,
		Role:          payload.Role,
		DistributorID: string(payload.DistributorID),
		Token:         token,
	}, nil
}
