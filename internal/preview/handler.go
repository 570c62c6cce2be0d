package preview

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/collect/internal/platform/httpx"
)

// Handler serves stored previews.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a preview handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// MountRoutes registers preview routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.show)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	blob, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			h.logger.Error("load preview", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(blob))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}
