package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/appcatalog/internal/catalogservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *catalogservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Catalog.
	r.Get("/apps", h.ListApps)
	r.Get("/apps/{bundleID}", h.GetApp)
	r.Get("/search", h.Search)

	// Sync control and run log.
	r.Post("/sync", h.Sync)
	r.Post("/sync/preview", h.PreviewSync)
	r.Get("/sync/runs", h.ListRuns)
	r.Get("/sync/runs/{id}", h.GetRun)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// NewHealthRouter serves the unauthenticated liveness and readiness probes.
func NewHealthRouter(svc *catalogservice.Service) chi.Router {
	r := chi.NewRouter()
	r.Get("/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
