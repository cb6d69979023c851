package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wisprnet/fleet/internal/model"
)

// NASService keeps the freeradius client table in step with the router
// fleet: one entry per router while the router has a tunnel address, keyed
// by a shortname derived from the router id.
type NASService struct {
	db             DB
	logger         zerolog.Logger
	fallbackSecret string
	serverTag      string
}

func NewNASService(db DB, logger zerolog.Logger, fallbackSecret, serverTag string) *NASService {
	return &NASService{
		db:             db,
		logger:         logger.With().Str("component", "nas").Logger(),
		fallbackSecret: fallbackSecret,
		serverTag:      serverTag,
	}
}

// NASShortName derives the registry key for a router. Deterministic so the
// entry can be upserted and deleted without storing a reference.
func NASShortName(routerID int64) string {
	return fmt.Sprintf("router-%d", routerID)
}

func (s *NASService) secretFor(router *model.Router) string {
	if router.APIPassword != nil && *router.APIPassword != "" {
		return *router.APIPassword
	}
	return s.fallbackSecret
}

// SyncForRouter upserts the router's NAS entry. A router without a tunnel
// address gets its entry removed instead; RADIUS must not trust a client
// address we no longer control.
func (s *NASService) SyncForRouter(ctx context.Context, router *model.Router) error {
	if router.TunnelAddress() == "" {
		return s.DeleteForRouter(ctx, router.ID)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO nas (nasname, shortname, type, secret, server, description)
		VALUES ($1, $2, 'mikrotik', $3, $4, $5)
		ON CONFLICT (shortname) DO UPDATE SET
			nasname = EXCLUDED.nasname,
			secret = EXCLUDED.secret,
			server = EXCLUDED.server,
			description = EXCLUDED.description`,
		router.TunnelAddress(), NASShortName(router.ID), s.secretFor(router),
		s.serverTag, router.Name)
	if err != nil {
		return fmt.Errorf("upsert nas entry for router %d: %w", router.ID, err)
	}
	return nil
}

// DeleteForRouter removes the router's NAS entry. Absence is not an error.
func (s *NASService) DeleteForRouter(ctx context.Context, routerID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM nas WHERE shortname = $1`, NASShortName(routerID))
	if err != nil {
		return fmt.Errorf("delete nas entry for router %d: %w", routerID, err)
	}
	return nil
}

// Subscriber returns the router-event hook that keeps the registry in sync.
// Failures are logged, never propagated: a stale NAS row must not block a
// router mutation, and the next sync converges it.
func (s *NASService) Subscriber() RouterSubscriber {
	return func(ctx context.Context, ev RouterEvent) {
		var err error
		switch ev.Kind {
		case RouterCreated:
			err = s.SyncForRouter(ctx, ev.New)
		case RouterUpdated:
			if nasFieldsChanged(ev.Old, ev.New) {
				err = s.SyncForRouter(ctx, ev.New)
			}
		case RouterDeleted:
			err = s.DeleteForRouter(ctx, ev.Old.ID)
		}
		if err != nil {
			s.logger.Error().Err(err).
				Int64("router_id", ev.Router().ID).
				Str("event", ev.Kind).
				Msg("nas registry sync failed")
		}
	}
}

func nasFieldsChanged(old, new *model.Router) bool {
	if old.TunnelAddress() != new.TunnelAddress() {
		return true
	}
	oldSecret, newSecret := "", ""
	if old.APIPassword != nil {
		oldSecret = *old.APIPassword
	}
	if new.APIPassword != nil {
		newSecret = *new.APIPassword
	}
	return oldSecret != newSecret
}
