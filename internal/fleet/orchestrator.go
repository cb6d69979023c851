// Package fleet runs the periodic reconciliation sweeps: router liveness and
// resource polling, hotspot profile push, expired-subscriber disconnects and
// stale session cleanup. Every sweep unit is isolated; one dead router never
// stalls the rest of the fleet.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wisprnet/fleet/internal/core"
	"github.com/wisprnet/fleet/internal/model"
	"github.com/wisprnet/fleet/internal/routeros"
)

var (
	sweepRouters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_sweep_routers_total",
		Help: "Per-router sweep outcomes",
	}, []string{"result"})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetd_sweep_duration_seconds",
		Help:    "Duration of full fleet sweeps",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})
	sweepSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_sweep_skipped_total",
		Help: "Fleet sweeps skipped because the previous one was still running",
	})
	expiredDisconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_expired_disconnects_total",
		Help: "Expired-subscriber disconnect attempts",
	}, []string{"result"})
	staleSessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_stale_sessions_closed_total",
		Help: "Active sessions force-closed for missing interim updates",
	})
)

// RouterClient is the slice of the RouterOS client the sweeps use. Tests
// substitute a fake per router.
type RouterClient interface {
	IsOnline(ctx context.Context) bool
	SystemResource(ctx context.Context) (routeros.SystemResource, error)
	Identity(ctx context.Context) (string, error)
	SetIdentity(ctx context.Context, name string) error
	ActiveHotspotSessions(ctx context.Context) ([]routeros.ActiveSession, error)
	ActivePPPoESessions(ctx context.Context) ([]routeros.ActiveSession, error)
	EnsureHotspotProfile(ctx context.Context, profile routeros.HotspotProfile) error
	EnableWinboxAccess(ctx context.Context) error
	DisconnectUser(ctx context.Context, serviceType, username string) error
	Close() error
}

// ClientFactory builds the per-router client for one sweep unit.
type ClientFactory func(router *model.Router) RouterClient

// Orchestrator drives the fleet sweeps over the service layer.
type Orchestrator struct {
	logger    zerolog.Logger
	services  *core.Services
	newClient ClientFactory
	workers   int

	sweepMu sync.Mutex
}

func NewOrchestrator(logger zerolog.Logger, services *core.Services, factory ClientFactory, workers int) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		logger:    logger.With().Str("component", "fleet").Logger(),
		services:  services,
		newClient: factory,
		workers:   workers,
	}
}

// Sweep visits every sync-eligible router concurrently, bounded by the worker
// limit. Per-router failures are recorded on the router row and never abort
// the sweep; an invocation overlapping a running sweep is skipped.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	if !o.sweepMu.TryLock() {
		sweepSkipped.Inc()
		o.logger.Warn().Msg("fleet sweep still running, skipping")
		return nil
	}
	defer o.sweepMu.Unlock()

	// Correlates all log lines from one sweep run.
	logger := o.logger.With().Str("sweep_id", uuid.NewString()).Logger()
	start := time.Now()

	routers, err := o.services.Router.ListSyncEligible(ctx)
	if err != nil {
		return fmt.Errorf("list sweep targets: %w", err)
	}

	// Package lists are per tenant; fetch each once up front instead of
	// once per router.
	profiles, err := o.profilesByTenant(ctx, logger, routers)
	if err != nil {
		logger.Error().Err(err).Msg("profile preload failed, sweeping without profile push")
		profiles = nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range routers {
		router := &routers[i]
		g.Go(func() error {
			o.syncRouter(gctx, logger, router, profiles[router.TenantID])
			return nil
		})
	}
	_ = g.Wait()

	sweepDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Int("routers", len(routers)).
		Dur("duration", time.Since(start)).
		Msg("fleet sweep completed")
	return nil
}

func (o *Orchestrator) profilesByTenant(ctx context.Context, logger zerolog.Logger, routers []model.Router) (map[int64][]routeros.HotspotProfile, error) {
	profiles := make(map[int64][]routeros.HotspotProfile)
	for i := range routers {
		tenantID := routers[i].TenantID
		if _, ok := profiles[tenantID]; ok {
			continue
		}
		packages, err := o.services.Package.ListByTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		var list []routeros.HotspotProfile
		for _, pkg := range packages {
			if pkg.ServiceType != model.ServiceHotspot {
				continue
			}
			profile, err := routeros.ProfileFromPackage(pkg)
			if err != nil {
				logger.Warn().Err(err).
					Int64("package_id", pkg.ID).
					Msg("package skipped for profile sync")
				continue
			}
			list = append(list, profile)
		}
		profiles[tenantID] = list
	}
	return profiles, nil
}

// syncRouter is one sweep unit: probe, read resources and session counts,
// push desired device state, persist the outcome. Never returns an error;
// the outcome lands in the sweep result and the metrics.
func (o *Orchestrator) syncRouter(ctx context.Context, logger zerolog.Logger, router *model.Router, profiles []routeros.HotspotProfile) {
	client := o.newClient(router)
	defer client.Close()

	if !client.IsOnline(ctx) {
		sweepRouters.WithLabelValues("offline").Inc()
		res := model.SweepResult{RouterID: router.ID, Status: model.StatusOffline}
		if err := o.services.Router.RecordSweepResult(ctx, res); err != nil {
			logger.Error().Err(err).Int64("router_id", router.ID).Msg("record offline result failed")
		}
		return
	}

	now := time.Now()
	res := model.SweepResult{
		RouterID: router.ID,
		Status:   model.StatusOnline,
		SeenAt:   &now,
	}

	sys, err := client.SystemResource(ctx)
	if err != nil {
		logger.Warn().Err(err).Int64("router_id", router.ID).Msg("resource read failed")
		res.Error = err.Error()
	} else {
		res.CPULoad = sys.CPULoad
		res.MemoryUsed = sys.MemoryUsedPct
	}

	if sessions, err := client.ActiveHotspotSessions(ctx); err == nil {
		res.HotspotSessions = len(sessions)
	}
	if sessions, err := client.ActivePPPoESessions(ctx); err == nil {
		res.PPPoESessions = len(sessions)
	}

	o.pushDeviceState(ctx, logger, client, router, profiles)

	if err := o.services.Router.RecordSweepResult(ctx, res); err != nil {
		sweepRouters.WithLabelValues("error").Inc()
		logger.Error().Err(err).Int64("router_id", router.ID).Msg("record sweep result failed")
		return
	}
	sweepRouters.WithLabelValues("online").Inc()
}

// pushDeviceState converges the device toward its record: identity, Winbox
// service access, hotspot profiles. Each push failing is logged, not fatal;
// the next sweep retries.
func (o *Orchestrator) pushDeviceState(ctx context.Context, logger zerolog.Logger, client RouterClient, router *model.Router, profiles []routeros.HotspotProfile) {
	if router.Name != "" {
		if identity, err := client.Identity(ctx); err == nil && identity != router.Name {
			if err := client.SetIdentity(ctx, router.Name); err != nil {
				logger.Warn().Err(err).Int64("router_id", router.ID).Msg("identity push failed")
			}
		}
	}

	if router.WinboxEnabled {
		if err := client.EnableWinboxAccess(ctx); err != nil {
			logger.Warn().Err(err).Int64("router_id", router.ID).Msg("winbox access push failed")
		}
	}

	for _, profile := range profiles {
		if err := client.EnsureHotspotProfile(ctx, profile); err != nil {
			logger.Warn().Err(err).
				Int64("router_id", router.ID).
				Str("profile", profile.Name).
				Msg("hotspot profile push failed")
		}
	}
}

// SyncProfiles pushes every hotspot package profile of the router's tenant to
// the device, on demand.
func (o *Orchestrator) SyncProfiles(ctx context.Context, routerID int64) error {
	router, err := o.services.Router.GetByID(ctx, routerID)
	if err != nil {
		return err
	}

	packages, err := o.services.Package.ListByTenant(ctx, router.TenantID)
	if err != nil {
		return err
	}

	client := o.newClient(router)
	defer client.Close()

	for _, pkg := range packages {
		if pkg.ServiceType != model.ServiceHotspot {
			continue
		}
		profile, err := routeros.ProfileFromPackage(pkg)
		if err != nil {
			return fmt.Errorf("package %d: %w", pkg.ID, err)
		}
		if err := client.EnsureHotspotProfile(ctx, profile); err != nil {
			return err
		}
	}
	return nil
}

// DisconnectExpired kicks every expired-but-online subscriber off its router
// and clears the online flag. Grouped by router so each device is dialed
// once; an unreachable router defers its group to the next run.
func (o *Orchestrator) DisconnectExpired(ctx context.Context) error {
	subs, err := o.services.Subscriber.ListExpiredOnline(ctx)
	if err != nil {
		return fmt.Errorf("list expired subscribers: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	byRouter := make(map[int64][]model.Subscriber)
	for _, sub := range subs {
		if sub.RouterID == nil {
			// No router attachment to kick; just clear the flag.
			if err := o.services.Subscriber.MarkOffline(ctx, sub.ID); err != nil {
				o.logger.Error().Err(err).Int64("subscriber_id", sub.ID).Msg("mark offline failed")
			}
			continue
		}
		byRouter[*sub.RouterID] = append(byRouter[*sub.RouterID], sub)
	}

	for routerID, group := range byRouter {
		router, err := o.services.Router.GetByID(ctx, routerID)
		if err != nil {
			o.logger.Error().Err(err).Int64("router_id", routerID).Msg("disconnect sweep: router lookup failed")
			continue
		}

		client := o.newClient(router)
		for _, sub := range group {
			if err := client.DisconnectUser(ctx, sub.ServiceType, sub.Username); err != nil {
				expiredDisconnects.WithLabelValues("failure").Inc()
				o.logger.Warn().Err(err).
					Int64("subscriber_id", sub.ID).
					Str("username", sub.Username).
					Msg("device disconnect failed")
				continue
			}
			expiredDisconnects.WithLabelValues("success").Inc()
			if err := o.services.Subscriber.MarkOffline(ctx, sub.ID); err != nil {
				o.logger.Error().Err(err).Int64("subscriber_id", sub.ID).Msg("mark offline failed")
			}
		}
		client.Close()
	}
	return nil
}

// CleanupStaleSessions closes active sessions with no accounting traffic for
// the cutoff window.
func (o *Orchestrator) CleanupStaleSessions(ctx context.Context, olderThan time.Duration) error {
	closed, err := o.services.Accounting.CleanupStale(ctx, olderThan)
	if err != nil {
		return err
	}
	if closed > 0 {
		staleSessionsClosed.Add(float64(closed))
		o.logger.Info().Int64("closed", closed).Msg("stale sessions cleaned up")
	}
	return nil
}
