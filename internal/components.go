package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/appcatalog/internal/cache"
	"github.com/starford/appcatalog/internal/catalog"
	"github.com/starford/appcatalog/internal/catalogservice"
	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/source"
	"github.com/starford/appcatalog/internal/syncer"
)

// components holds the wired domain stack shared by all commands.
type components struct {
	logger *slog.Logger
	db     *catalog.DB
	source source.Source
	engine *syncer.Engine
	svc    *catalogservice.Service
	cache  cache.Cache
	closer func()
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger installs the structured JSON logger as the process default.
func (a *application) newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// build opens the catalog and wires source, cache, applier and engine.
func (a *application) build(ctx context.Context, logger *slog.Logger, notifiers ...syncer.Notifier) (*components, error) {
	cfg := a.config

	db, err := catalog.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	src, err := newSource(cfg.Sync.Source, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init source: %w", err)
	}

	refCache, closeCache, err := newCache(ctx, cfg.Cache)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}

	resolver := syncer.NewResolver(db, refCache, syncer.OwnerPolicy(cfg.Sync.Owner.Policy), cfg.Sync.Owner.DeveloperID, logger)

	if err := seedReferences(ctx, db, resolver, cfg.References); err != nil {
		_ = closeCache()
		db.Close()
		return nil, err
	}

	applier := syncer.NewApplier(db, resolver, cfg.Sync.Concurrency, logger)
	applier.SetRecordTimeout(cfg.Sync.RecordTimeout)

	engineOpts := []syncer.EngineOption{
		syncer.WithTimeout(cfg.Sync.Timeout),
		syncer.WithLogger(logger),
	}
	for _, n := range notifiers {
		engineOpts = append(engineOpts, syncer.WithNotifier(n))
	}
	engine := syncer.NewEngine(src, db, db, applier, engineOpts...)

	return &components{
		logger: logger,
		db:     db,
		source: src,
		engine: engine,
		svc:    catalogservice.NewService(db, engine),
		cache:  refCache,
		closer: func() {
			if err := closeCache(); err != nil {
				logger.Warn("cache close failed", slog.String("error", err.Error()))
			}
			if err := db.Close(); err != nil {
				logger.Warn("catalog close failed", slog.String("error", err.Error()))
			}
		},
	}, nil
}

// staleRunGrace is added to the sync timeout before a running row is
// considered abandoned.
const staleRunGrace = time.Minute

// failStaleRuns fails running rows older than any live run could be.
func (c *components) failStaleRuns(ctx context.Context, timeout time.Duration) {
	n, err := c.db.FailStaleRuns(ctx, timeout+staleRunGrace, "abandoned: exceeded sync timeout")
	if err != nil {
		c.logger.Warn("stale run cleanup failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		c.logger.Info("stale runs marked failed", slog.Int64("count", n))
	}
}

// sweepCache evicts expired in-memory cache entries every interval until ctx
// is done. Other backends expire entries themselves.
func (c *components) sweepCache(ctx context.Context, interval time.Duration) {
	mem, ok := c.cache.(*cache.Memory)
	if !ok || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Sweep(); n > 0 {
				c.logger.Debug("cache: swept expired entries",
					slog.Int("dropped", n),
					slog.Int("remaining", mem.Len()))
			}
		}
	}
}

func (c *components) Close() {
	c.closer()
}

// seedReferences upserts configured references and drops their cached
// lookups, which may predate this process when the cache is shared.
func seedReferences(ctx context.Context, db *catalog.DB, resolver *syncer.Resolver, refs ReferencesConfig) error {
	for _, c := range refs.Categories {
		if err := db.UpsertCategory(ctx, models.Category{ID: c.ID, Name: c.Name, ParentID: c.ParentID}); err != nil {
			return fmt.Errorf("seed category %s: %w", c.ID, err)
		}
		if err := resolver.ForgetCategory(ctx, c.ID); err != nil {
			return fmt.Errorf("invalidate category %s: %w", c.ID, err)
		}
	}
	for _, d := range refs.Developers {
		dev := models.Developer{ID: d.ID, Name: d.Name, Verified: d.Verified}
		if err := db.UpsertDeveloper(ctx, dev); err != nil {
			return fmt.Errorf("seed developer %s: %w", d.ID, err)
		}
		if err := resolver.ForgetDeveloper(ctx, dev); err != nil {
			return fmt.Errorf("invalidate developer %s: %w", d.ID, err)
		}
	}
	return nil
}

func newSource(cfg SourceConfig, logger *slog.Logger) (source.Source, error) {
	normalizer := source.Normalizer{Lenient: cfg.Lenient, Logger: logger}
	switch cfg.Kind {
	case SourceKindHTTP:
		return source.NewHTTP(source.HTTPConfig{
			URL:               cfg.URL,
			RecordsPath:       cfg.RecordsPath,
			NextPath:          cfg.NextPath,
			MaxPages:          cfg.MaxPages,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Headers:           cfg.Headers,
			Timeout:           cfg.RequestTimeout,
		}, nil, normalizer, logger), nil
	case SourceKindDir:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create manifest dir: %w", err)
		}
		dir, err := source.NewDir(cfg.Dir, normalizer, logger)
		if err != nil {
			return nil, err
		}
		return dir, nil
	default:
		return nil, errors.New("unknown source kind " + cfg.Kind)
	}
}

func newCache(ctx context.Context, cfg CacheConfig) (cache.Cache, func() error, error) {
	switch cfg.Backend {
	case CacheBackendRedis:
		r, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return cache.NewMemory(cfg.TTL, nil), func() error { return nil }, nil
	}
}
