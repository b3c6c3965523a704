package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hashbrotherhood/hashmarket/internal/crypto"
	"github.com/hashbrotherhood/hashmarket/internal/server"
	"github.com/hashbrotherhood/hashmarket/internal/server/handler"
	"github.com/hashbrotherhood/hashmarket/internal/server/ws"
	"github.com/hashbrotherhood/hashmarket/internal/service"
)

// ServeMode runs the marketplace API: HTTP server, WebSocket hub, and the
// order expiry sweeper. This is the default production mode.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	a.startMarketplace(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything ServeMode runs plus the settled-order archive
// worker, when a retention window is configured.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	a.startMarketplace(ctx, g, deps)

	if a.cfg.Market.ArchiveAfter > 0 {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	return g.Wait()
}

// ArchiveMode runs only the archive worker. Useful as a cron-style sidecar
// next to a fleet of serve-mode instances.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired (check s3 config)")
	}
	return a.runArchiver(ctx, deps)
}

// startMarketplace builds the services, registers the HTTP surface, and adds
// the server, WebSocket hub, and expiry sweeper to the errgroup.
func (a *App) startMarketplace(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	accountSvc := service.NewAccountService(
		deps.AccountStore, deps.JournalStore, deps.Ledger, deps.AuditStore, a.logger,
	)
	listingSvc := service.NewListingService(deps.ListingStore, deps.AccountStore, a.logger)
	orderSvc := service.NewOrderService(
		deps.OrderStore, deps.ListingStore, deps.AccountStore, deps.RatingStore,
		deps.Ledger, deps.SignalBus, deps.AuditStore, a.logger,
	)
	settlementSvc := service.NewSettlementService(
		deps.OrderStore, deps.Ledger, deps.LockManager, deps.SignalBus,
		deps.AuditStore, deps.Notifier, a.cfg.Market.SettleLockTTL, a.logger,
	)
	disputeSvc := service.NewDisputeService(
		deps.DisputeStore, deps.OrderStore, settlementSvc, deps.SignalBus,
		deps.AuditStore, a.logger,
	)
	telemetrySvc := service.NewTelemetryService(
		deps.OrderStore, deps.TelemetryStore, deps.TelemetryCache, deps.SignalBus,
		deps.Notifier, a.cfg.Proxy.SampleInterval, a.cfg.Proxy.LowAccuracyAlertPercent,
		a.logger,
	)
	reviewSvc := service.NewReviewService(
		deps.OrderStore, deps.AccountStore, deps.ListingStore, deps.DisputeStore,
		deps.JournalStore, a.logger,
	)

	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pingers, a.logger),
		Accounts: handler.NewAccountHandler(accountSvc, a.logger),
		Listings: handler.NewListingHandler(listingSvc, a.logger),
		Orders:   handler.NewOrderHandler(orderSvc, disputeSvc, a.logger),
		Admin:    handler.NewAdminHandler(settlementSvc, disputeSvc, reviewSvc, accountSvc, a.logger),
		Proxy:    handler.NewProxyHandler(telemetrySvc, a.logger),
		Stats:    handler.NewStatsHandler(reviewSvc, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		AdminAPIKey:        a.cfg.Server.AdminAPIKey,
		AdminAPIKeyHash:    a.cfg.Server.AdminAPIKeyHash,
		ProxyAuth:          &crypto.ProxyAuth{Secret: a.cfg.Server.ProxyHMACSecret},
		RateLimiter:        deps.RateLimiter,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown", slog.String("error", err.Error()))
			}
			<-errCh
			return ctx.Err()
		case err := <-errCh:
			return err
		}
	})

	sweeper := service.NewExpiryWorker(
		deps.OrderStore, deps.SignalBus, a.cfg.Market.SweepInterval, a.logger,
	)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
}

// runArchiver exports settled orders older than the retention window to
// object storage on a fixed interval. The first pass runs immediately.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Market.ArchiveInterval
	if interval <= 0 {
		interval = time.Hour
	}

	logger := a.logger.With(slog.String("component", "archive_worker"))
	logger.InfoContext(ctx, "archive worker starting",
		slog.Duration("retention", a.cfg.Market.ArchiveAfter),
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().UTC().Add(-a.cfg.Market.ArchiveAfter)
		count, err := deps.Archiver.ArchiveSettledOrders(ctx, cutoff)
		if err != nil {
			// Transient store or S3 failures should not kill the worker.
			logger.ErrorContext(ctx, "archive pass failed",
				slog.String("error", err.Error()),
			)
		} else if count > 0 {
			logger.InfoContext(ctx, "archived settled orders",
				slog.Int64("count", count),
				slog.Time("cutoff", cutoff),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
