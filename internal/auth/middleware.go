package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/collect/internal/platform/httpx"
	"github.com/odyssey-erp/collect/internal/shared"
)

// Middleware wires authentication and role checks for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Authenticate resolves the bearer token into a principal stored on the request
// context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="collect"`)
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
			return
		}
		p, err := m.Service.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, shared.ErrUnauthenticated) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="collect", error="invalid_token"`)
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
				return
			}
			if m.Logger != nil {
				m.Logger.Error("authenticate", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "identity service unavailable")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireRole ensures the current principal holds at least one of roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	normalized := normalizeRoles(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p := shared.PrincipalFromContext(r.Context())
			if p == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			if hasAnyRole(p.Role, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "role not allowed to collect payments")
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func normalizeRoles(roles []string) []string {
	unique := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		unique[role] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for role := range unique {
		normalized = append(normalized, role)
	}
	return normalized
}

func hasAnyRole(granted string, required []string) bool {
	granted = strings.TrimSpace(strings.ToLower(granted))
	for _, r := range required {
		if r == granted {
			return true
		}
	}
	return false
}
