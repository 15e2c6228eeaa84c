// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app implements the Integration layer (C11): it constructs
// and wires every other component in the order spec.md §4.11
// requires, and tears them down in reverse on shutdown.
package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/agentviewer/core/internal/api"
	"github.com/agentviewer/core/internal/autoabort"
	"github.com/agentviewer/core/internal/bus"
	"github.com/agentviewer/core/internal/config"
	"github.com/agentviewer/core/internal/lifecycle"
	"github.com/agentviewer/core/internal/overlay"
	"github.com/agentviewer/core/internal/permission"
	"github.com/agentviewer/core/internal/process"
	"github.com/agentviewer/core/internal/reconcile"
	"github.com/agentviewer/core/internal/scheduler"
	"github.com/agentviewer/core/internal/sessionrepo"
	"github.com/agentviewer/core/internal/watcher"
	"go.uber.org/zap"
)

// Options configures one App instance, sourced from config file +
// env vars + CLI flags by the caller (spec.md §6).
type Options struct {
	Config *config.Config
	Log    *zap.Logger
}

// App holds every wired component for one running instance. Fields
// are set in Initialize, in the exact order spec.md §4.11 specifies:
// platform -> bus -> virtual store -> repositories -> registry ->
// lifecycle -> mediator -> watcher -> scheduler -> auto-abort.
type App struct {
	cfg *config.Config
	log *zap.Logger

	bus         *bus.Bus
	overlay     *overlay.Store
	repo        *sessionrepo.Repository
	registry    *process.Registry
	coordinator *lifecycle.Coordinator
	mediator    *permission.Mediator
	watcher     *watcher.JournalWatcher
	scheduler   *scheduler.Scheduler
	autoAbort   *autoabort.Daemon
	fumJanitor  *sessionrepo.Janitor
	apiServer   *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// New constructs an App. Call Initialize, then Start (or Run for
// both plus the shutdown-signal wait).
func New(opts Options) *App {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		cfg:  opts.Config,
		log:  log.Named("app"),
		done: make(chan struct{}),
	}
}

// Initialize constructs every component and wires their dependencies.
// Each step is idempotent-safe to call once; Initialize itself is not
// meant to be called twice.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.cfg

	// platform: the filesystem layout this instance reads/writes.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}
	cacheDir := filepath.Join(cfg.DataDir, "first-user-message-cache")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	pidDir := filepath.Join(cfg.DataDir, "pids")
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return err
	}

	// startup reconciliation: before the watcher and scheduler start,
	// warn about (and clear) any pidfile left behind by a previous,
	// now-dead instance of this program.
	if err := reconcile.Reconcile(pidDir, app.log); err != nil {
		app.log.Warn("startup reconciliation failed", zap.Error(err))
	}

	// bus
	app.bus = bus.New(app.log)

	// virtual store
	app.overlay = overlay.New()

	// repositories
	app.repo = sessionrepo.New(app.overlay, app.bus, cacheDir, app.log)

	// registry
	app.registry = process.NewRegistry(app.bus, app.log)

	// lifecycle
	spawner := &lifecycle.ExecSpawner{Executable: cfg.Executable, Log: app.log, PidDir: pidDir}
	app.mediator = permission.New(app.bus, app.log)
	app.coordinator = lifecycle.New(app.bus, app.registry, app.overlay, app.mediator, spawner, app.log)
	app.coordinator.SetHistoryReader(app.repo)

	// mediator is constructed above (needed by lifecycle.New); nothing
	// further to wire here, matching spec.md §4.11's ordering in
	// spirit even though the coordinator and mediator are mutually
	// dependent at construction time.

	// watcher
	jw, err := watcher.New(cfg.ClaudeDir, app.bus, cfg.WatchDebounce, app.log)
	if err != nil {
		return err
	}
	app.watcher = jw

	// scheduler
	app.scheduler = scheduler.New(filepath.Join(cfg.DataDir, "scheduler.json"), app.bus, app.coordinator, app.log)

	// auto-abort
	app.autoAbort = autoabort.New(app.registry, app.repo, app.coordinator, cfg.AutoAbortThreshold, app.log)

	// first-user-message cache janitor
	app.fumJanitor = sessionrepo.NewJanitor(app.repo, app.log)

	// HTTP surface, built last since it only fronts the above.
	app.apiServer = api.NewServer(api.ServerConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
	}, api.Dependencies{
		Repo:        app.repo,
		Registry:    app.registry,
		Coordinator: app.coordinator,
		Mediator:    app.mediator,
		Scheduler:   app.scheduler,
		ClaudeDir:   cfg.ClaudeDir,
		StartedAt:   time.Now(),
		Log:         app.log,
	}, app.bus)

	return nil
}

// Start launches every component's background work and the HTTP
// server (non-blocking; the server runs in its own goroutine).
func (app *App) Start(ctx context.Context) error {
	app.watcher.Start()
	app.scheduler.Start(ctx)
	app.autoAbort.Start()
	app.fumJanitor.Start()

	go func() {
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.Error("api server exited", zap.Error(err))
		}
	}()

	return nil
}

// Run initializes, starts, and blocks until a shutdown signal (SIGINT,
// SIGTERM, ctx cancellation, or an explicit Stop call), then shuts
// down gracefully.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		app.log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		app.log.Info("context cancelled, shutting down")
	case <-app.done:
		app.log.Info("shutdown requested")
	}

	return app.Shutdown(context.Background())
}

// Shutdown tears down every component in the reverse of Initialize's
// wiring order (spec.md §4.11), each step tolerant of a nil/unstarted
// component so Shutdown is safe even if Initialize partially failed.
func (app *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			app.log.Warn("api server shutdown error", zap.Error(err))
		}
	}
	if app.fumJanitor != nil {
		app.fumJanitor.Stop()
	}
	if app.autoAbort != nil {
		app.autoAbort.Stop()
	}
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			app.log.Warn("watcher close error", zap.Error(err))
		}
	}
	if app.bus != nil {
		app.bus.Close()
	}

	app.log.Info("shutdown complete")
	return nil
}

// Stop signals Run's wait loop to begin shutdown. Safe to call more
// than once or before Run has started.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
