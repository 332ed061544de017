package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/catalog"
	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/reconcile"
)

// DefaultConcurrency bounds concurrent record writes.
const DefaultConcurrency = 8

// DefaultRecordTimeout bounds one record's lookups and write. Writes run on a
// context detached from the run, so this is what stops a stuck write.
const DefaultRecordTimeout = 30 * time.Second

// MutationStore persists reconciliation decisions.
type MutationStore interface {
	CreateApp(ctx context.Context, a catalog.NewApp) (int64, error)
	UpdateFromSource(ctx context.Context, id int64, rec models.SourceRecord, restore bool) error
	MarkUnsupported(ctx context.Context, id int64) error
}

// Result is the outcome of applying one decision. Err is nil on success.
type Result struct {
	Key            string                `json:"bundle_id"`
	Classification models.Classification `json:"classification"`
	Restored       bool                  `json:"restored,omitempty"`
	Err            error                 `json:"-"`
}

// Applier writes decisions to the catalog.
type Applier struct {
	store       MutationStore
	resolver    *Resolver
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewApplier creates an applier. concurrency <= 0 uses DefaultConcurrency.
func NewApplier(store MutationStore, resolver *Resolver, concurrency int, logger *slog.Logger) *Applier {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		store:       store,
		resolver:    resolver,
		concurrency: concurrency,
		timeout:     DefaultRecordTimeout,
		logger:      logger,
	}
}

// SetRecordTimeout overrides DefaultRecordTimeout.
func (a *Applier) SetRecordTimeout(d time.Duration) {
	if d > 0 {
		a.timeout = d
	}
}

// Apply writes every decision and returns the aggregated stats together with
// one Result per attempted decision, in decision order. A failing record is
// counted in Errors and never stops the others. Once ctx is done no further
// records are started; records already started run to completion or until
// the record timeout.
func (a *Applier) Apply(ctx context.Context, decisions []reconcile.Decision) (models.SyncStats, []Result) {
	results := make([]Result, len(decisions))
	started := make([]bool, len(decisions))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := range decisions {
		if ctx.Err() != nil {
			break
		}
		d := decisions[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			started[i] = true
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
			err := a.applyOne(wctx, d)
			cancel()
			results[i] = Result{Key: d.Key(), Classification: d.Classification, Restored: d.Restored, Err: err}
			if err != nil {
				a.logger.Warn("syncer: record failed",
					slog.String("bundle_id", d.Key()),
					slog.String("classification", string(d.Classification)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	var stats models.SyncStats
	out := make([]Result, 0, len(results))
	for i, r := range results {
		if !started[i] {
			continue
		}
		out = append(out, r)
		if r.Err != nil {
			stats.Errors++
			continue
		}
		switch r.Classification {
		case models.Added:
			stats.Added++
		case models.Updated:
			stats.Updated++
		case models.Unchanged:
			stats.Unchanged++
		case models.Removed:
			stats.Removed++
		}
	}
	return stats, out
}

func (a *Applier) applyOne(ctx context.Context, d reconcile.Decision) error {
	if d.ClaimedBy != "" {
		return fmt.Errorf("syncer: app %d already matched by %s: %w", d.Entry.ID, d.ClaimedBy, apperr.ErrConflict)
	}
	switch d.Classification {
	case models.Added:
		categoryID, err := a.resolver.Category(ctx, d.Record.CategoryID)
		if err != nil {
			return err
		}
		developerID, err := a.resolver.Developer(ctx, *d.Record)
		if err != nil {
			return err
		}
		_, err = a.store.CreateApp(ctx, catalog.NewApp{
			Record:      *d.Record,
			CategoryID:  categoryID,
			DeveloperID: developerID,
		})
		return err
	case models.Updated:
		if d.Record.CategoryID != "" {
			if _, err := a.resolver.Category(ctx, d.Record.CategoryID); err != nil {
				return err
			}
		}
		return a.store.UpdateFromSource(ctx, d.Entry.ID, *d.Record, d.Restored)
	case models.Unchanged:
		return nil
	case models.Removed:
		return a.store.MarkUnsupported(ctx, d.Entry.ID)
	default:
		return fmt.Errorf("syncer: unknown classification %q", d.Classification)
	}
}
