package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/collect/internal/auth"
	"github.com/odyssey-erp/collect/internal/collection"
	"github.com/odyssey-erp/collect/internal/observability"
	"github.com/odyssey-erp/collect/internal/platform/httpx"
	"github.com/odyssey-erp/collect/internal/preview"
	"github.com/odyssey-erp/collect/internal/shared"
	"github.com/odyssey-erp/collect/jobs"
)

// ReadinessCheck reports whether one dependency is reachable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Auth              auth.Middleware
	AuthHandler       *auth.Handler
	CollectionHandler *collection.Handler
	PreviewHandler    *preview.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	Readiness         []ReadinessCheck
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.Logger, params.Readiness))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	roles := []string(nil)
	if params.Config != nil {
		roles = params.Config.CollectionRoles
	}

	if params.AuthHandler != nil {
		r.Route("/auth", func(r chi.Router) {
			r.Use(params.Auth.Authenticate)
			params.AuthHandler.MountRoutes(r)
		})
	}
	if params.CollectionHandler != nil {
		r.Route("/collections", func(r chi.Router) {
			r.Use(params.Auth.Authenticate)
			r.Use(params.Auth.RequireRole(roles...))
			params.CollectionHandler.MountRoutes(r)
		})
	}
	if params.PreviewHandler != nil {
		// Preview ids are unguessable and short lived; image tags cannot send a bearer token.
		r.Route("/previews", params.PreviewHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.Auth.Authenticate)
			r.Use(params.Auth.RequireRole(shared.RoleAdmin))
			params.JobHandler.MountRoutes(r)
		})
	}

	return r
}

func readiness(logger *slog.Logger, checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		results := make([]string, len(checks))
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range checks {
			g.Go(func() error {
				if err := c.Check(gctx); err != nil {
					results[i] = err.Error()
					return err
				}
				results[i] = "ok"
				return nil
			})
		}
		err := g.Wait()

		body := make(map[string]string, len(checks))
		for i, c := range checks {
			body[c.Name] = results[i]
		}
		if err != nil {
			logger.Warn("readiness check failed", slog.Any("error", err))
			httpx.JSON(w, http.StatusServiceUnavailable, body)
			return
		}
		httpx.JSON(w, http.StatusOK, body)
	}
}
