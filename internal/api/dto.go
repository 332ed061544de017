package api

import (
	"github.com/starford/appcatalog/internal/catalog"
	"github.com/starford/appcatalog/internal/catalogservice"
	"github.com/starford/appcatalog/internal/models"
)

// App is the catalog app response type (aliased from the domain layer).
type App = models.App

// AppListResponse wraps paginated app listings.
type AppListResponse = catalogservice.AppPage

// SearchResult is a single search hit in the API response.
type SearchResult = catalog.SearchResult

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// SyncRun is a sync run log entry.
type SyncRun = models.SyncRun

// SyncFailedResponse is returned when a run was started but failed.
type SyncFailedResponse struct {
	Error string   `json:"error" example:"source unavailable" validate:"required"`
	Run   *SyncRun `json:"run" validate:"required"`
}

// SyncRunListResponse wraps the run log.
type SyncRunListResponse struct {
	Runs []SyncRun `json:"runs" validate:"required"`
}

// PreviewResponse is the dry-run result.
type PreviewResponse = catalogservice.PreviewResult
