package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wisprnet/fleet/internal/model"
)

// RouterService owns the router table and fans lifecycle events out to the
// peer reconciler and NAS registry. Event emission is explicit: create,
// update (with old and new record) and delete, nothing hook-based.
type RouterService struct {
	db             DB
	logger         zerolog.Logger
	tunnelPool     string
	winboxPortBase int
	subs           []RouterSubscriber
}

func NewRouterService(db DB, logger zerolog.Logger, tunnelPool string, winboxPortBase int) *RouterService {
	return &RouterService{
		db:             db,
		logger:         logger.With().Str("component", "routers").Logger(),
		tunnelPool:     tunnelPool,
		winboxPortBase: winboxPortBase,
	}
}

// Subscribe registers a lifecycle event consumer. Not safe for concurrent
// use with event emission; wire all subscribers during startup.
func (s *RouterService) Subscribe(fn RouterSubscriber) {
	s.subs = append(s.subs, fn)
}

func (s *RouterService) emit(ctx context.Context, ev RouterEvent) {
	for _, fn := range s.subs {
		fn(ctx, ev)
	}
}

const routerColumns = `id, tenant_id, name, ip_address, username, password, api_username, api_password, api_port, api_tls, wg_public_key, wg_address, wg_allowed_ips, winbox_port, winbox_enabled, status, last_seen_at, cpu_load, memory_used, hotspot_sessions, pppoe_sessions, created_at, updated_at`

func scanRouter(row interface{ Scan(dest ...any) error }) (model.Router, error) {
	var r model.Router
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.IPAddress, &r.Username, &r.Password,
		&r.APIUsername, &r.APIPassword, &r.APIPort, &r.APITLS,
		&r.WGPublicKey, &r.WGAddress, &r.WGAllowedIPs, &r.WinboxPort, &r.WinboxEnabled,
		&r.Status, &r.LastSeenAt, &r.CPULoad, &r.MemoryUsed,
		&r.HotspotSessions, &r.PPPoESessions, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	return r, nil
}

// Create inserts the router, then derives its permanent tunnel identity from
// the assigned id: tunnel address from the shared pool and a Winbox
// forwarding port above everything already handed out.
func (s *RouterService) Create(ctx context.Context, router *model.Router) error {
	now := time.Now()
	router.CreatedAt = now
	router.UpdatedAt = now
	if router.Status == "" {
		router.Status = model.StatusOffline
	}
	if router.APIPort == 0 {
		router.APIPort = 8728
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO routers (tenant_id, name, ip_address, username, password, api_username, api_password, api_port, api_tls, wg_public_key, wg_allowed_ips, winbox_enabled, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		router.TenantID, router.Name, router.IPAddress, router.Username, router.Password,
		router.APIUsername, router.APIPassword, router.APIPort, router.APITLS,
		router.WGPublicKey, router.WGAllowedIPs, router.WinboxEnabled,
		router.Status, router.CreatedAt, router.UpdatedAt,
	).Scan(&router.ID)
	if err != nil {
		return fmt.Errorf("insert router: %w", err)
	}

	addr, err := DeriveTunnelAddress(s.tunnelPool, router.ID)
	if err != nil {
		return fmt.Errorf("derive tunnel address for router %d: %w", router.ID, err)
	}
	tunnelAddr := addr.String()

	assigned, err := s.assignedWinboxPorts(ctx)
	if err != nil {
		return fmt.Errorf("list winbox ports: %w", err)
	}
	winboxPort := DeriveForwardingPort(s.winboxPortBase, assigned)

	if router.WGAllowedIPs == "" {
		router.WGAllowedIPs = tunnelAddr + "/32"
	}

	_, err = s.db.Exec(ctx,
		`UPDATE routers SET wg_address = $1, wg_allowed_ips = $2, winbox_port = $3 WHERE id = $4`,
		tunnelAddr, router.WGAllowedIPs, winboxPort, router.ID,
	)
	if err != nil {
		return fmt.Errorf("assign tunnel identity to router %d: %w", router.ID, err)
	}
	router.WGAddress = &tunnelAddr
	router.WinboxPort = &winboxPort

	s.logger.Info().
		Int64("router_id", router.ID).
		Str("tunnel_address", tunnelAddr).
		Int("winbox_port", winboxPort).
		Msg("router created")

	s.emit(ctx, RouterEvent{Kind: RouterCreated, New: router})
	return nil
}

func (s *RouterService) assignedWinboxPorts(ctx context.Context) ([]int, error) {
	rows, err := s.db.Query(ctx, `SELECT winbox_port FROM routers WHERE winbox_port IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}

func (s *RouterService) GetByID(ctx context.Context, id int64) (*model.Router, error) {
	row := s.db.QueryRow(ctx, `SELECT `+routerColumns+` FROM routers WHERE id = $1`, id)
	r, err := scanRouter(row)
	if err != nil {
		return nil, fmt.Errorf("get router %d: %w", id, err)
	}
	return &r, nil
}

func (s *RouterService) ListByTenant(ctx context.Context, tenantID int64) ([]model.Router, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+routerColumns+` FROM routers WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list routers for tenant %d: %w", tenantID, err)
	}
	return collectRouters(rows)
}

// ListSyncEligible returns routers the fleet sync loop should visit: a
// tunnel address plus some form of credentials.
func (s *RouterService) ListSyncEligible(ctx context.Context) ([]model.Router, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+routerColumns+` FROM routers
		 WHERE wg_address IS NOT NULL AND wg_address != ''
		   AND (username != '' OR api_username IS NOT NULL)
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sync-eligible routers: %w", err)
	}
	return collectRouters(rows)
}

// ListWithKeys returns routers that have been onboarded with a WireGuard
// public key; this is the desired peer set for the mesh interface.
func (s *RouterService) ListWithKeys(ctx context.Context) ([]model.Router, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+routerColumns+` FROM routers
		 WHERE wg_public_key IS NOT NULL AND wg_public_key != ''
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list keyed routers: %w", err)
	}
	return collectRouters(rows)
}

func collectRouters(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
},
) ([]model.Router, error) {
	defer rows.Close()
	var routers []model.Router
	for rows.Next() {
		r, err := scanRouter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan router: %w", err)
		}
		routers = append(routers, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routers: %w", err)
	}
	return routers, nil
}

// Update persists the mutable fields and emits an updated event carrying the
// old and new record. The tunnel address is deliberately not touched here.
func (s *RouterService) Update(ctx context.Context, router *model.Router) error {
	old, err := s.GetByID(ctx, router.ID)
	if err != nil {
		return err
	}

	router.UpdatedAt = time.Now()
	_, err = s.db.Exec(ctx,
		`UPDATE routers SET name = $1, ip_address = $2, username = $3, password = $4,
		 api_username = $5, api_password = $6, api_port = $7, api_tls = $8,
		 wg_public_key = $9, wg_allowed_ips = $10, winbox_enabled = $11, updated_at = $12
		 WHERE id = $13`,
		router.Name, router.IPAddress, router.Username, router.Password,
		router.APIUsername, router.APIPassword, router.APIPort, router.APITLS,
		router.WGPublicKey, router.WGAllowedIPs, router.WinboxEnabled, router.UpdatedAt,
		router.ID,
	)
	if err != nil {
		return fmt.Errorf("update router %d: %w", router.ID, err)
	}

	router.WGAddress = old.WGAddress
	router.WinboxPort = old.WinboxPort
	s.emit(ctx, RouterEvent{Kind: RouterUpdated, Old: old, New: router})
	return nil
}

// Delete removes the router record. The deleted event goes out first so the
// peer and NAS entry teardown is attempted before the row disappears; either
// side effect failing is the subscriber's problem to log, not a reason to
// keep the record.
func (s *RouterService) Delete(ctx context.Context, id int64) error {
	old, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	s.emit(ctx, RouterEvent{Kind: RouterDeleted, Old: old})

	result, err := s.db.Exec(ctx, `DELETE FROM routers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete router %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("router %d not found", id)
	}

	s.logger.Info().Int64("router_id", id).Msg("router deleted")
	return nil
}

// RecordSweepResult writes one fleet sync outcome back to the router row.
// Only liveness and resource fields are touched; accounting reconciliation
// owns the subscriber online flags.
func (s *RouterService) RecordSweepResult(ctx context.Context, res model.SweepResult) error {
	if res.Status == model.StatusOnline {
		_, err := s.db.Exec(ctx,
			`UPDATE routers SET status = $1, last_seen_at = $2, cpu_load = $3, memory_used = $4,
			 hotspot_sessions = $5, pppoe_sessions = $6, updated_at = now() WHERE id = $7`,
			res.Status, res.SeenAt, res.CPULoad, res.MemoryUsed,
			res.HotspotSessions, res.PPPoESessions, res.RouterID,
		)
		if err != nil {
			return fmt.Errorf("record sweep result for router %d: %w", res.RouterID, err)
		}
		return nil
	}

	_, err := s.db.Exec(ctx,
		`UPDATE routers SET status = $1, updated_at = now() WHERE id = $2`,
		model.StatusOffline, res.RouterID,
	)
	if err != nil {
		return fmt.Errorf("mark router %d offline: %w", res.RouterID, err)
	}
	return nil
}
