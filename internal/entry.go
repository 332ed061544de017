// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/appcatalog/internal/api"
	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/mcpserver"
	"github.com/starford/appcatalog/internal/metrics"
	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/schedule"
	"github.com/starford/appcatalog/internal/source"
	"github.com/starford/appcatalog/internal/sse"
)

const syncJobName = "catalog-sync"

// Run starts the HTTP server, the sync scheduler and the optional manifest
// watcher, and blocks until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("source_kind", cfg.Sync.Source.Kind),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("schedule", cfg.Sync.Schedule),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	syncMetrics := metrics.New()
	broker := sse.NewBroker(2*time.Second, 30*time.Second)
	defer broker.Close()

	c, err := app.build(ctx, logger, syncMetrics, broker)
	if err != nil {
		return err
	}
	defer c.Close()

	c.failStaleRuns(ctx, cfg.Sync.Timeout)

	g, gCtx := errgroup.WithContext(ctx)

	runSync := func(trigger models.Trigger) {
		c.failStaleRuns(gCtx, cfg.Sync.Timeout)
		if _, err := c.engine.Run(gCtx, trigger); err != nil {
			if errors.Is(err, apperr.ErrSyncInProgress) {
				logger.Info("sync skipped, another run is active", slog.String("trigger", string(trigger)))
				return
			}
			logger.Error("sync failed", slog.String("trigger", string(trigger)), slog.String("error", err.Error()))
		}
	}

	scheduler, err := schedule.New(logger)
	if err != nil {
		return err
	}
	if cfg.Sync.Schedule != "" {
		if err := scheduler.Add(syncJobName, cfg.Sync.Schedule, func() { runSync(models.TriggerSchedule) }); err != nil {
			return err
		}
	}
	scheduler.Start()
	for _, job := range scheduler.Jobs() {
		logger.Info("schedule: job registered",
			slog.String("job", job.Name),
			slog.String("cron", job.Schedule),
			slog.Time("next_run", job.NextRun))
	}
	defer func() {
		if err := scheduler.Stop(); err != nil {
			logger.Warn("scheduler stop failed", slog.String("error", err.Error()))
		}
	}()

	svc := c.svc
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health and metrics are unauthenticated.
	r.Mount("/health", api.NewHealthRouter(svc))
	r.Handle("/metrics", syncMetrics.Handler())
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	if cfg.Sync.OnStartup {
		if cfg.Sync.Schedule != "" {
			if err := scheduler.RunNow(syncJobName); err != nil {
				logger.Warn("startup sync not queued", slog.String("error", err.Error()))
			}
		} else {
			g.Go(func() error {
				runSync(models.TriggerManual)
				return nil
			})
		}
	}

	g.Go(func() error {
		c.sweepCache(gCtx, cfg.Cache.TTL)
		return nil
	})

	if cfg.Sync.Watch {
		g.Go(func() error {
			err := source.Watch(gCtx, cfg.Sync.Source.Dir, cfg.Sync.Debounce, logger, func() {
				runSync(models.TriggerWatch)
			})
			if err != nil {
				logger.Error("manifest watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Close the broker first so open event streams do not hold Shutdown.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so background loops exit once the
// server has been told to stop.
var errShutdown = errors.New("shutdown")

// RunSync performs a single sync run, or a preview when dryRun is set, and
// writes the result as JSON to out.
func RunSync(ctx context.Context, dryRun bool, out io.Writer, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.newLogger()

	c, err := app.build(ctx, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if dryRun {
		preview, err := c.svc.Preview(ctx)
		if err != nil {
			return fmt.Errorf("preview: %w", err)
		}
		return enc.Encode(preview)
	}

	c.failStaleRuns(ctx, app.config.Sync.Timeout)
	run, err := c.svc.Sync(ctx, models.TriggerCLI)
	if run != nil {
		if encErr := enc.Encode(run); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// RunMCP serves the catalog MCP tools over stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.newLogger()

	c, err := app.build(ctx, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	logger.Info("mcp: serving on stdio", slog.String("version", app.version))
	return mcpserver.New(c.svc, app.version).ServeStdio()
}
