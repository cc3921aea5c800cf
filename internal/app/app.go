// Package app wires the ledger, orchestrator, caches, journal and blob
// storage together and runs one operating mode until it finishes or the
// process is told to stop.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/predictstake/internal/config"
)

// App owns the configuration and the teardown hooks of one run.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"serve":   (*App).ServeMode,
	"watch":   (*App).WatchMode,
	"archive": (*App).ArchiveMode,
}

// Run resolves the mode, wires only what that mode needs and blocks until
// the mode returns.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire %s: %w", mode, err)
	}
	a.closers = append(a.closers, cleanup)
	return run(a, ctx, deps)
}

// Close runs teardown hooks newest first. Later calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
