package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wisprnet/fleet/internal/api"
	"github.com/wisprnet/fleet/internal/config"
	"github.com/wisprnet/fleet/internal/core"
	"github.com/wisprnet/fleet/internal/db"
	"github.com/wisprnet/fleet/internal/fleet"
	"github.com/wisprnet/fleet/internal/logging"
	"github.com/wisprnet/fleet/internal/metrics"
	"github.com/wisprnet/fleet/internal/model"
	"github.com/wisprnet/fleet/internal/routeros"
	"github.com/wisprnet/fleet/internal/wgmesh"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPoolMetrics(pool)

	services := core.NewServices(pool, logger, core.Options{
		TunnelPool:           cfg.WGTunnelCIDR,
		WinboxPortBase:       cfg.WinboxPortBase,
		RADIUSFallbackSecret: cfg.RADIUSFallbackSecret,
		RADIUSServerTag:      cfg.RADIUSServerTag,
	})

	device, err := wgmesh.NewWGCtrlDevice(cfg.WGInterface)
	if err != nil {
		logger.Fatal().Err(err).Str("interface", cfg.WGInterface).Msg("failed to open wireguard interface")
	}
	defer device.Close()

	reconciler := wgmesh.NewReconciler(logger, device, services.Router, cfg.WGAutoSync)
	services.Router.Subscribe(reconciler.Subscriber())

	newClient := func(router *model.Router) fleet.RouterClient {
		return routeros.NewClient(logger, router, routeros.Config{
			TunnelCIDR: cfg.WGTunnelCIDR,
			Timeout:    cfg.RouterAPITimeout,
		})
	}
	orchestrator := fleet.NewOrchestrator(logger, services, newClient, cfg.SyncWorkers)

	scheduler := fleet.NewScheduler(logger,
		fleet.Job{Name: "fleet_sweep", Interval: cfg.SyncInterval, Run: orchestrator.Sweep},
		fleet.Job{Name: "wg_reconcile", Interval: cfg.WGReconcileInterval, Run: reconciler.SyncAll},
		fleet.Job{Name: "expired_disconnect", Interval: cfg.SyncInterval, Run: orchestrator.DisconnectExpired},
		fleet.Job{Name: "stale_sessions", Interval: cfg.SessionStaleAfter, Run: func(ctx context.Context) error {
			return orchestrator.CleanupStaleSessions(ctx, cfg.SessionStaleAfter)
		}},
	)
	scheduler.Start(ctx)

	apiClient := func(router *model.Router) *routeros.Client {
		return routeros.NewClient(logger, router, routeros.Config{
			TunnelCIDR: cfg.WGTunnelCIDR,
			Timeout:    cfg.RouterAPITimeout,
		})
	}
	srv := api.NewServer(logger, pool, services, orchestrator, apiClient)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsServer := metrics.NewServer(cfg.MetricsListenAddr, pool)

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting fleet API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()
	scheduler.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
}
