package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictstake/internal/server"
	"github.com/alanyoungcy/predictstake/internal/server/handler"
	"github.com/alanyoungcy/predictstake/internal/server/ws"
	"github.com/alanyoungcy/predictstake/internal/watch"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServeMode exposes the orchestrator over HTTP and WebSocket and relays
// refresh notices between replicas.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Wallet:    deps.Wallet,
		StartedAt: startedAt,
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: &handler.StatusHandler{
			Mode:      a.cfg.Mode,
			Wallet:    deps.Wallet,
			StartedAt: startedAt,
			InFlight:  deps.Registry.InFlight,
		},
		Events:  handler.NewEventHandler(deps.Orchestrator, a.logger),
		Refresh: handler.NewRefreshHandler(deps.Coordinator, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.Operations != nil {
		handlers.Operations = handler.NewOperationHandler(deps.Operations, a.logger)
	}
	if deps.Audit != nil {
		handlers.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return deps.Fanout.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// WatchMode polls the configured events, logging label changes and claiming
// rewards and refunds when auto_claim is set.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	events := a.cfg.WatchEvents()
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Int("events", len(events)),
		slog.Bool("auto_claim", a.cfg.Watch.AutoClaim),
	)

	g, ctx := errgroup.WithContext(ctx)

	tracker := watch.NewTracker(deps.Orchestrator, watch.Config{
		Events:    events,
		Interval:  a.cfg.Watch.Interval.Duration,
		AutoClaim: a.cfg.Watch.AutoClaim,
	}, a.logger)

	g.Go(func() error {
		if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return deps.Fanout.Run(ctx)
	})

	return g.Wait()
}

// ArchiveMode uploads terminal journal rows older than the retention period
// to object storage and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archive mode: archiver not wired (postgres and s3 required)")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("before", cutoff),
		slog.Bool("prune", a.cfg.Archive.Prune),
	)

	n, err := deps.Archiver.ArchiveOperations(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}

	attrs := []any{slog.Int64("archived", n)}
	if deps.BlobReader != nil {
		files, err := deps.BlobReader.List(ctx, "archive/operations/")
		if err != nil {
			a.logger.WarnContext(ctx, "archive listing failed", slog.String("error", err.Error()))
		} else {
			attrs = append(attrs, slog.Int("archive_files", len(files)))
		}
	}
	a.logger.InfoContext(ctx, "archive mode finished", attrs...)
	return nil
}
