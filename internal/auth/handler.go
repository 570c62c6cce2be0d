package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/collect/internal/platform/httpx"
	"github.com/odyssey-erp/collect/internal/shared"
)

// Handler exposes the authenticated identity.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers auth routes. The router must run Authenticate first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Post("/logout", h.logout)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// logout drops the cached identity so the next request re-checks the token.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		if err := h.service.Forget(r.Context(), p.Token); err != nil {
			h.logger.Warn("forget identity", slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
