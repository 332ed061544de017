package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/catalog"
	"github.com/starford/appcatalog/internal/catalogservice"
	"github.com/starford/appcatalog/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *catalogservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *catalogservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListApps handles GET /api/apps.
//
//	@Summary		List catalog apps
//	@Tags			apps
//	@Produce		json
//	@Param			limit				query		int		false	"Page size"
//	@Param			offset				query		int		false	"Page offset"
//	@Param			category			query		string	false	"Filter by category ID"
//	@Param			include_unsupported	query		bool	false	"Include apps no longer offered by the source"
//	@Success		200					{object}	AppListResponse
//	@Security		BearerAuth
//	@Router			/apps [get]
func (h *Handler) ListApps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	includeUnsupported, _ := strconv.ParseBool(q.Get("include_unsupported"))

	page, err := h.svc.ListApps(r.Context(), catalog.ListOptions{
		Limit:              limit,
		Offset:             offset,
		CategoryID:         q.Get("category"),
		IncludeUnsupported: includeUnsupported,
	})
	if err != nil {
		slog.Error("list apps failed", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetApp handles GET /api/apps/{bundleID}.
//
//	@Summary		Get an app by any of its bundle identifiers
//	@Tags			apps
//	@Produce		json
//	@Param			bundleID	path		string	true	"Bundle identifier"
//	@Success		200			{object}	App
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/apps/{bundleID} [get]
func (h *Handler) GetApp(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "bundleID")
	app, err := h.svc.GetApp(r.Context(), bundleID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not found")
		} else {
			slog.Error("get app failed", slog.String("bundle_id", bundleID), slog.String("error", err.Error()))
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// Search handles GET /api/search.
//
//	@Summary		Search app names, descriptions and tags
//	@Tags			apps
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, r, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Sync handles POST /api/sync. The run continues if the client disconnects.
//
//	@Summary		Run a catalog sync
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncRun
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	SyncFailedResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Sync(context.WithoutCancel(r.Context()), models.TriggerManual)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, run)
	case errors.Is(err, apperr.ErrSyncInProgress):
		writeError(w, r, http.StatusConflict, "sync already in progress")
	case run != nil:
		writeJSON(w, http.StatusBadGateway, SyncFailedResponse{Error: err.Error(), Run: run})
	default:
		slog.Error("sync failed to start", slog.String("error", err.Error()))
		writeError(w, r, http.StatusServiceUnavailable, "sync unavailable")
	}
}

// PreviewSync handles POST /api/sync/preview.
//
//	@Summary		Reconcile the source against the catalog without writing
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	PreviewResponse
//	@Failure		502	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync/preview [post]
func (h *Handler) PreviewSync(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Preview(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, p)
		return
	}
	slog.Error("sync preview failed", slog.String("error", err.Error()))
	switch {
	case errors.Is(err, apperr.ErrSourceUnavailable), errors.Is(err, apperr.ErrSourceFormat):
		writeError(w, r, http.StatusBadGateway, err.Error())
	case errors.Is(err, apperr.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "catalog unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// ListRuns handles GET /api/sync/runs.
//
//	@Summary		List recent sync runs
//	@Tags			sync
//	@Produce		json
//	@Param			limit	query		int	false	"Max runs"
//	@Success		200		{object}	SyncRunListResponse
//	@Security		BearerAuth
//	@Router			/sync/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, SyncRunListResponse{Runs: runs})
}

// GetRun handles GET /api/sync/runs/{id}.
//
//	@Summary		Get a sync run
//	@Tags			sync
//	@Produce		json
//	@Param			id	path		string	true	"Run ID"
//	@Success		200	{object}	SyncRun
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not found")
		} else {
			slog.Error("get run failed", slog.String("id", id), slog.String("error", err.Error()))
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}
