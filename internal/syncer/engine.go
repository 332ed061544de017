// Package syncer runs catalog synchronization: fetch the source, load the
// local baseline, reconcile, apply, and record the run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/reconcile"
	"github.com/starford/appcatalog/internal/source"
)

// DefaultTimeout bounds a whole run.
const DefaultTimeout = 10 * time.Minute

// Loader reads the comparison baseline.
type Loader interface {
	LoadExisting(ctx context.Context) ([]models.CatalogEntry, error)
}

// RunLog persists sync run lifecycles.
type RunLog interface {
	BeginRun(ctx context.Context, trigger models.Trigger) (*models.SyncRun, error)
	FinishRun(ctx context.Context, run *models.SyncRun) error
}

// Notifier observes run lifecycles. Implementations must not block.
type Notifier interface {
	SyncStarted(run *models.SyncRun)
	SyncFinished(run *models.SyncRun, results []Result)
}

// Preview is the outcome of a dry run.
type Preview struct {
	Stats     models.SyncStats     `json:"stats"`
	Decisions []reconcile.Decision `json:"-"`
	Digest    string               `json:"source_digest,omitempty"`
}

// Engine orchestrates sync runs. At most one run executes per engine; the
// run log additionally rejects runs started by other processes.
type Engine struct {
	source    source.Source
	loader    Loader
	runs      RunLog
	applier   *Applier
	timeout   time.Duration
	notifiers []Notifier
	logger    *slog.Logger
	now       func() time.Time
	running   atomic.Bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTimeout bounds each run. Zero or negative disables the bound.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithNotifier registers a lifecycle observer.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n) }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the clock used for finish timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine.
func NewEngine(src source.Source, loader Loader, runs RunLog, applier *Applier, opts ...EngineOption) *Engine {
	e := &Engine{
		source:  src,
		loader:  loader,
		runs:    runs,
		applier: applier,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Running reports whether this engine is executing a run.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run executes one sync. A nil error means the run completed, possibly with
// per-record errors counted in Stats.Errors. A non-nil error with a non-nil
// run means the run failed and was recorded as such; partial stats are kept.
// A nil run means no run was started (apperr.ErrSyncInProgress, or the run
// log is unavailable).
func (e *Engine) Run(ctx context.Context, trigger models.Trigger) (*models.SyncRun, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("syncer: run: %w", apperr.ErrSyncInProgress)
	}
	defer e.running.Store(false)

	run, err := e.runs.BeginRun(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("syncer: begin run: %w", err)
	}
	e.logger.Info("syncer: run started",
		slog.String("run_id", run.ID),
		slog.String("trigger", string(trigger)),
		slog.String("source", e.source.Name()),
	)
	for _, n := range e.notifiers {
		n.SyncStarted(run)
	}

	runCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	results, runErr := e.execute(runCtx, run)
	if runErr != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		runErr = fmt.Errorf("syncer: run exceeded %s: %w", e.timeout, apperr.ErrSyncTimeout)
	}

	finished := e.now()
	run.FinishedAt = &finished
	if runErr != nil {
		run.Status = models.SyncFailed
		run.Error = runErr.Error()
	} else {
		run.Status = models.SyncCompleted
	}

	if err := e.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.Error("syncer: finish run failed", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		if runErr == nil {
			runErr = fmt.Errorf("syncer: finish run %s: %w", run.ID, err)
		}
	}

	attrs := []any{
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("added", run.Stats.Added),
		slog.Int("updated", run.Stats.Updated),
		slog.Int("unchanged", run.Stats.Unchanged),
		slog.Int("removed", run.Stats.Removed),
		slog.Int("errors", run.Stats.Errors),
		slog.Duration("duration", finished.Sub(run.StartedAt)),
	}
	if runErr != nil {
		e.logger.Error("syncer: run failed", append(attrs, slog.String("error", runErr.Error()))...)
	} else {
		e.logger.Info("syncer: run completed", attrs...)
	}

	for _, n := range e.notifiers {
		n.SyncFinished(run, results)
	}
	return run, runErr
}

// DryRun fetches and reconciles without writing anything.
func (e *Engine) DryRun(ctx context.Context) (*Preview, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	batch, decisions, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Stats:     reconcile.Summarize(decisions),
		Decisions: decisions,
		Digest:    batch.Digest,
	}, nil
}

func (e *Engine) execute(ctx context.Context, run *models.SyncRun) ([]Result, error) {
	batch, decisions, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	run.SourceDigest = batch.Digest

	stats, results := e.applier.Apply(ctx, decisions)
	run.Stats = stats
	if err := ctx.Err(); err != nil && len(results) < len(decisions) {
		return results, fmt.Errorf("syncer: apply interrupted after %d of %d records: %w", len(results), len(decisions), err)
	}
	return results, nil
}

// prepare fetches the source and loads the baseline concurrently.
func (e *Engine) prepare(ctx context.Context) (*source.Batch, []reconcile.Decision, error) {
	var (
		batch   *source.Batch
		entries []models.CatalogEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := e.source.Fetch(gctx)
		if err != nil {
			return fmt.Errorf("syncer: fetch %s: %w", e.source.Name(), err)
		}
		batch = b
		return nil
	})
	g.Go(func() error {
		en, err := e.loader.LoadExisting(gctx)
		if err != nil {
			return fmt.Errorf("syncer: load catalog: %w", err)
		}
		entries = en
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return batch, reconcile.Reconcile(batch.Records, entries), nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
