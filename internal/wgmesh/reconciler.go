package wgmesh

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/wisprnet/fleet/internal/core"
	"github.com/wisprnet/fleet/internal/model"
)

var (
	peerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_wg_peer_ops_total",
		Help: "WireGuard peer operations by kind and result",
	}, []string{"op", "result"})
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetd_wg_sync_duration_seconds",
		Help:    "Duration of full WireGuard peer reconciliation sweeps",
		Buckets: prometheus.DefBuckets,
	})
	syncSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_wg_sync_skipped_total",
		Help: "Full sweeps skipped because the previous one was still running",
	})
)

// RouterSource lists the routers whose peers belong on the interface.
type RouterSource interface {
	ListWithKeys(ctx context.Context) ([]model.Router, error)
}

// Reconciler applies router peer state to the live interface. All interface
// writes go through one mutex; the interface is a single shared resource
// and concurrent edits conflict.
type Reconciler struct {
	logger  zerolog.Logger
	dev     Device
	routers RouterSource

	// autoSync gates the lifecycle-event subscriber. The explicit
	// ApplyPeer/RemovePeer/SyncAll entry points work regardless.
	autoSync bool
	// removeUnknown enables drift correction: live peers with no matching
	// router are dropped during a full sweep.
	removeUnknown bool

	mu      sync.Mutex
	sweepMu sync.Mutex
}

func NewReconciler(logger zerolog.Logger, dev Device, routers RouterSource, autoSync bool) *Reconciler {
	return &Reconciler{
		logger:        logger.With().Str("component", "wgmesh").Logger(),
		dev:           dev,
		routers:       routers,
		autoSync:      autoSync,
		removeUnknown: true,
	}
}

func peerSpecFor(router *model.Router) PeerSpec {
	spec := PeerSpec{PublicKey: router.PublicKey()}
	if router.WGAllowedIPs != "" {
		for _, cidr := range strings.Split(router.WGAllowedIPs, ",") {
			if cidr = strings.TrimSpace(cidr); cidr != "" {
				spec.AllowedIPs = append(spec.AllowedIPs, cidr)
			}
		}
	}
	if len(spec.AllowedIPs) == 0 && router.TunnelAddress() != "" {
		spec.AllowedIPs = []string{router.TunnelAddress() + "/32"}
	}
	return spec
}

// ApplyPeer converges the interface entry for one router. Idempotent: the
// allowed-IP set is replaced wholesale, so re-applying an unchanged router
// leaves the interface as it was.
func (r *Reconciler) ApplyPeer(ctx context.Context, router *model.Router) error {
	if router.PublicKey() == "" {
		return fmt.Errorf("router %d has no public key", router.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.dev.ApplyPeer(peerSpecFor(router)); err != nil {
		peerOpsTotal.WithLabelValues("apply", "failure").Inc()
		return fmt.Errorf("apply peer for router %d: %w", router.ID, err)
	}
	peerOpsTotal.WithLabelValues("apply", "success").Inc()
	r.logger.Info().Int64("router_id", router.ID).
		Str("tunnel_address", router.TunnelAddress()).
		Msg("wireguard peer applied")
	return nil
}

// RemovePeer removes a peer by public key. An absent peer is fine.
func (r *Reconciler) RemovePeer(ctx context.Context, publicKey string) error {
	if publicKey == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.dev.RemovePeer(publicKey); err != nil {
		peerOpsTotal.WithLabelValues("remove", "failure").Inc()
		return fmt.Errorf("remove peer: %w", err)
	}
	peerOpsTotal.WithLabelValues("remove", "success").Inc()
	return nil
}

// Subscriber returns the router lifecycle hook. Failures are logged and
// absorbed: the database stays authoritative and the next full sweep
// converges the interface.
func (r *Reconciler) Subscriber() core.RouterSubscriber {
	return func(ctx context.Context, ev core.RouterEvent) {
		if !r.autoSync {
			return
		}

		var err error
		switch ev.Kind {
		case core.RouterCreated:
			if ev.New.PublicKey() != "" {
				err = r.ApplyPeer(ctx, ev.New)
			}
		case core.RouterUpdated:
			err = r.handleUpdate(ctx, ev.Old, ev.New)
		case core.RouterDeleted:
			err = r.RemovePeer(ctx, ev.Old.PublicKey())
		}
		if err != nil {
			r.logger.Error().Err(err).
				Int64("router_id", ev.Router().ID).
				Str("event", ev.Kind).
				Msg("wireguard peer sync failed")
		}
	}
}

func (r *Reconciler) handleUpdate(ctx context.Context, old, new *model.Router) error {
	oldKey, newKey := old.PublicKey(), new.PublicKey()

	if newKey == "" {
		// Key cleared: the router is off the mesh until re-onboarded.
		return r.RemovePeer(ctx, oldKey)
	}
	if oldKey != "" && oldKey != newKey {
		// The key is the peer's identity on the interface; a rotation
		// leaves the old entry behind unless removed first.
		if err := r.RemovePeer(ctx, oldKey); err != nil {
			return err
		}
	}
	if oldKey != newKey || old.TunnelAddress() != new.TunnelAddress() || old.WGAllowedIPs != new.WGAllowedIPs {
		return r.ApplyPeer(ctx, new)
	}
	return nil
}

// SyncAll diffs the router table against the live peer list and converges
// the interface: missing or changed peers are applied, unmatched live peers
// removed. Guarded against overlapping runs; an invocation arriving while a
// sweep is in flight is skipped, not queued.
func (r *Reconciler) SyncAll(ctx context.Context) error {
	if !r.sweepMu.TryLock() {
		syncSkipped.Inc()
		r.logger.Warn().Msg("wireguard sweep still running, skipping")
		return nil
	}
	defer r.sweepMu.Unlock()

	start := time.Now()

	routers, err := r.routers.ListWithKeys(ctx)
	if err != nil {
		return fmt.Errorf("list desired peers: %w", err)
	}

	r.mu.Lock()
	live, err := r.dev.Peers()
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("list live peers: %w", err)
	}

	desired := make(map[string]*model.Router, len(routers))
	for i := range routers {
		desired[routers[i].PublicKey()] = &routers[i]
	}

	var applied, removed, failed int
	for key, router := range desired {
		spec := peerSpecFor(router)
		if liveSpec, ok := live[key]; ok && allowedIPsEqual(liveSpec.AllowedIPs, spec.AllowedIPs) {
			continue
		}
		if err := r.ApplyPeer(ctx, router); err != nil {
			r.logger.Error().Err(err).Int64("router_id", router.ID).Msg("sweep apply failed")
			failed++
			continue
		}
		applied++
	}

	if r.removeUnknown {
		for key := range live {
			if _, ok := desired[key]; ok {
				continue
			}
			if err := r.RemovePeer(ctx, key); err != nil {
				r.logger.Error().Err(err).Msg("sweep drift removal failed")
				failed++
				continue
			}
			removed++
		}
	}

	syncDuration.Observe(time.Since(start).Seconds())
	r.logger.Info().
		Int("desired", len(desired)).
		Int("applied", applied).
		Int("removed", removed).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("wireguard sweep completed")

	if failed > 0 {
		return fmt.Errorf("wireguard sweep: %d peer operations failed", failed)
	}
	return nil
}

func allowedIPsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
