// Package catalogservice exposes catalog reads and sync control to the HTTP
// API and the MCP server.
package catalogservice

import (
	"context"

	"github.com/starford/appcatalog/internal/catalog"
	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/syncer"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// AppPage is one page of the catalog listing.
type AppPage struct {
	Apps   []models.App `json:"apps"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// DecisionView is a reconciliation decision as shown to clients.
type DecisionView struct {
	BundleID       string                `json:"bundle_id"`
	Classification models.Classification `json:"classification"`
	Restored       bool                  `json:"restored,omitempty"`
	FromVersion    string                `json:"from_version,omitempty"`
	ToVersion      string                `json:"to_version,omitempty"`
	// ClaimedBy names the record that already matched the same app; such a
	// decision fails when applied.
	ClaimedBy string `json:"claimed_by,omitempty"`
}

// PreviewResult is the outcome of a dry-run sync.
type PreviewResult struct {
	Stats     models.SyncStats `json:"stats"`
	Decisions []DecisionView   `json:"decisions"`
	Digest    string           `json:"source_digest,omitempty"`
}

// Syncer runs and previews catalog synchronization.
type Syncer interface {
	Run(ctx context.Context, trigger models.Trigger) (*models.SyncRun, error)
	DryRun(ctx context.Context) (*syncer.Preview, error)
}

// Service coordinates catalog reads and sync runs.
type Service struct {
	db     catalog.Catalog
	engine Syncer
}

// NewService creates a new catalog service.
func NewService(db catalog.Catalog, engine Syncer) *Service {
	return &Service{db: db, engine: engine}
}

// ListApps returns a page of the catalog. Unsupported apps are hidden
// unless opts.IncludeUnsupported is set.
func (s *Service) ListApps(ctx context.Context, opts catalog.ListOptions) (*AppPage, error) {
	opts.Limit = clamp(opts.Limit, defaultPageSize, maxPageSize)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	apps, total, err := s.db.ListApps(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &AppPage{Apps: nonNilSlice(apps), Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// GetApp resolves an app by any of its bundle identifiers.
func (s *Service) GetApp(ctx context.Context, bundleID string) (*models.App, error) {
	return s.db.GetApp(ctx, bundleID)
}

// Search matches app names, descriptions and tags.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]catalog.SearchResult, error) {
	res, err := s.db.Search(ctx, query, clamp(limit, 20, maxPageSize))
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// Sync runs a synchronization. See syncer.Engine.Run for the meaning of the
// returned run and error.
func (s *Service) Sync(ctx context.Context, trigger models.Trigger) (*models.SyncRun, error) {
	return s.engine.Run(ctx, trigger)
}

// Preview reconciles the source against the catalog without writing.
func (s *Service) Preview(ctx context.Context) (*PreviewResult, error) {
	p, err := s.engine.DryRun(ctx)
	if err != nil {
		return nil, err
	}
	out := &PreviewResult{Stats: p.Stats, Digest: p.Digest, Decisions: make([]DecisionView, 0, len(p.Decisions))}
	for _, d := range p.Decisions {
		v := DecisionView{BundleID: d.Key(), Classification: d.Classification, Restored: d.Restored, ClaimedBy: d.ClaimedBy}
		if d.Entry != nil {
			v.FromVersion = d.Entry.Version
		}
		if d.Record != nil {
			v.ToVersion = d.Record.Version
		}
		out.Decisions = append(out.Decisions, v)
	}
	return out, nil
}

// ListRuns returns the most recent sync runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	runs, err := s.db.ListRuns(ctx, clamp(limit, 20, maxPageSize))
	if err != nil {
		return nil, err
	}
	return nonNilSlice(runs), nil
}

// GetRun returns one sync run.
func (s *Service) GetRun(ctx context.Context, id string) (*models.SyncRun, error) {
	return s.db.GetRun(ctx, id)
}

// Ready reports whether the catalog store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func clamp(v, def, upper int) int {
	if v <= 0 {
		return def
	}
	if v > upper {
		return upper
	}
	return v
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
