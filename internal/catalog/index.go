package catalog

import (
	"context"
	"time"

	"github.com/starford/appcatalog/internal/models"
)

// Catalog defines the catalog store operations.
// Consumers should depend on this interface (or a narrower one) rather than
// the concrete *DB type to facilitate testing with fakes.
type Catalog interface {
	LoadExisting(ctx context.Context) ([]models.CatalogEntry, error)
	CreateApp(ctx context.Context, a NewApp) (int64, error)
	UpdateFromSource(ctx context.Context, id int64, rec models.SourceRecord, restore bool) error
	MarkUnsupported(ctx context.Context, id int64) error
	GetApp(ctx context.Context, bundleID string) (*models.App, error)
	ListApps(ctx context.Context, opts ListOptions) ([]models.App, int, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	UpsertCategory(ctx context.Context, c models.Category) error
	CategoryByID(ctx context.Context, id string) (*models.Category, error)
	UpsertDeveloper(ctx context.Context, d models.Developer) error
	DeveloperByID(ctx context.Context, id string) (*models.Developer, error)
	FirstVerifiedDeveloper(ctx context.Context) (*models.Developer, error)
	VerifiedDeveloperByName(ctx context.Context, name string) (*models.Developer, error)

	BeginRun(ctx context.Context, trigger models.Trigger) (*models.SyncRun, error)
	FinishRun(ctx context.Context, run *models.SyncRun) error
	FailStaleRuns(ctx context.Context, olderThan time.Duration, reason string) (int64, error)
	GetRun(ctx context.Context, id string) (*models.SyncRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error)

	Ping(ctx context.Context) error
	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)
