package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/parimutuel"
	"github.com/alanyoungcy/parimutuel/internal/server"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/server/middleware"
	"github.com/alanyoungcy/parimutuel/internal/server/ws"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

// ownerLeaseKey is the lease a process must hold to run the engine.
const ownerLeaseKey = "engine-owner"

// ServerMode restores the engine and serves the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngine(ctx, g, deps, "server"); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs server mode plus the periodic settled-market archive.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngine(ctx, g, deps, "full"); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps.Archiver)
		})
	}
	return g.Wait()
}

// ArchiveMode only exports settled markets to object storage. It reads the
// journal and never runs the engine, so it needs no owner lease.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting archive mode")
	if deps.Archiver == nil {
		return errors.New("archive mode: archiver not configured")
	}
	return a.runArchiveLoop(ctx, deps.Archiver)
}

// startEngine claims engine ownership, restores state from the journal and
// launches the relay, hub and HTTP server on g.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies, mode string) error {
	if deps.LockManager != nil {
		lease, err := deps.LockManager.Acquire(ctx, ownerLeaseKey, a.cfg.Engine.OwnerLeaseTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("another process owns the engine: %w", err)
			}
			return fmt.Errorf("acquire owner lease: %w", err)
		}
		a.closers = append(a.closers, func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				a.logger.Warn("app: release owner lease failed", slog.String("error", err.Error()))
			}
		})
		g.Go(func() error {
			return a.keepLease(ctx, lease)
		})
	} else {
		a.logger.WarnContext(ctx, "app: redis disabled, engine ownership is not enforced")
	}

	limits := parimutuel.Limits{
		MinBet:        a.cfg.Engine.MinBet,
		MaxBet:        a.cfg.Engine.MaxBet,
		DefaultFeeBps: a.cfg.Engine.DefaultFeeBps,
		MaxFeeBps:     a.cfg.Engine.MaxFeeBps,
	}
	engine := parimutuel.NewEngine(limits, deps.Gold, deps.Journal, a.cfg.Engine.EventBuffer, a.logger)
	if deps.Journal != nil {
		if err := service.RestoreEngine(ctx, deps.Journal, engine, deps.MarketCache, a.logger); err != nil {
			return err
		}
	}

	marketSvc := service.NewMarketService(engine, deps.AuditStore, a.logger)
	betSvc := service.NewBetService(engine, deps.Gold, deps.AuditStore, a.logger)
	snapshots := service.NewSnapshotReader(engine, deps.MarketCache)

	hub := ws.NewHub(deps.SignalBus, snapshots, ws.Config{Mode: mode, StartedAt: time.Now().UTC()}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	relay := service.NewEventRelay(engine, deps.MarketCache, deps.Notifier, a.logger)
	if deps.SignalBus != nil {
		relay = relay.WithPublisher(deps.SignalBus).WithStream(deps.SignalBus)
	} else {
		relay = relay.WithPublisher(hub)
	}
	g.Go(func() error {
		return relay.Run(ctx)
	})

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "app: http server disabled")
		return nil
	}

	journalName, goldName := backendNames(a.cfg, deps)
	status := service.NewStatusService(engine, mode, journalName, goldName, hub.ClientCount)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Health, a.logger),
		Status:  handler.NewStatusHandler(status),
		Markets: handler.NewMarketHandler(marketSvc, a.logger),
		Bets:    handler.NewBetHandler(betSvc, a.logger),
	}, hub, a.rateLimit(deps), a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}

// rateLimit picks the request limiter configured for the server, or nil.
func (a *App) rateLimit(deps *Dependencies) func(http.Handler) http.Handler {
	rl := a.cfg.Server.RateLimit
	if !rl.Enabled {
		return nil
	}
	if rl.Backend == "redis" && deps.RateLimiter != nil {
		return middleware.RateLimit(deps.RateLimiter, rl.Requests, rl.Window.Duration, a.logger)
	}
	return middleware.LocalRateLimit(rl.Requests, rl.Window.Duration)
}

// keepLease refreshes the owner lease at a third of its TTL. Losing the
// lease stops the process.
func (a *App) keepLease(ctx context.Context, lease domain.Lease) error {
	ttl := a.cfg.Engine.OwnerLeaseTTL.Duration
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lease.Refresh(ctx, ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("app: owner lease lost: %w", err)
			}
		}
	}
}

// runArchiveLoop exports markets settled longer than the retention window,
// once at startup and then every archive interval.
func (a *App) runArchiveLoop(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	runOnce := func() {
		before := time.Now().UTC().Add(-retention)
		n, err := archiver.ArchiveSettled(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: run failed", slog.String("error", err.Error()))
			return
		}
		a.logger.InfoContext(ctx, "archive: run complete",
			slog.Int64("markets", n),
			slog.Time("before", before),
		)
	}

	a.logger.InfoContext(ctx, "archive: worker started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}
