package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/wisprnet/fleet/internal/model"
)

var (
	// ErrMissingRequiredField marks an accounting event without status
	// type, session id or username.
	ErrMissingRequiredField = errors.New("missing required accounting field")
	// ErrUnknownNASAddress marks an event whose NAS address matches no
	// router. The event is dropped; RADIUS resends on its own.
	ErrUnknownNASAddress = errors.New("unknown NAS address")
)

// Accounting status types, RFC 2866. Legacy senders use the numeric codes.
const (
	AcctStart   = "Start"
	AcctStop    = "Stop"
	AcctInterim = "Interim-Update"
)

// NormalizeAttr flattens a RADIUS attribute to a scalar string. Receivers
// see two shapes: a raw scalar, or a verbose envelope
// {"type": ..., "value": [v]}. Returns ok=false when the attribute is
// absent or empty.
func NormalizeAttr(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, val != ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case map[string]any:
		inner, ok := val["value"]
		if !ok {
			return "", false
		}
		list, ok := inner.([]any)
		if !ok || len(list) == 0 {
			return NormalizeAttr(inner)
		}
		return NormalizeAttr(list[0])
	default:
		return fmt.Sprintf("%v", val), true
	}
}

// AccountingEvent is a normalized accounting record.
type AccountingEvent struct {
	StatusType string
	SessionID  string
	Username   string
	NASAddress string
	FramedIP   string
	MAC        string
	BytesIn    int64
	BytesOut   int64
}

// ParseAccountingEvent normalizes a raw attribute map into an event.
// Status type, session id and username are mandatory.
func ParseAccountingEvent(raw map[string]any) (AccountingEvent, error) {
	var ev AccountingEvent
	var ok bool

	if ev.StatusType, ok = NormalizeAttr(raw["Acct-Status-Type"]); !ok {
		return ev, fmt.Errorf("%w: Acct-Status-Type", ErrMissingRequiredField)
	}
	switch ev.StatusType {
	case "1":
		ev.StatusType = AcctStart
	case "2":
		ev.StatusType = AcctStop
	case "3":
		ev.StatusType = AcctInterim
	}

	if ev.SessionID, ok = NormalizeAttr(raw["Acct-Session-Id"]); !ok {
		return ev, fmt.Errorf("%w: Acct-Session-Id", ErrMissingRequiredField)
	}
	if ev.Username, ok = NormalizeAttr(raw["User-Name"]); !ok {
		return ev, fmt.Errorf("%w: User-Name", ErrMissingRequiredField)
	}

	ev.NASAddress, _ = NormalizeAttr(raw["NAS-IP-Address"])
	ev.FramedIP, _ = NormalizeAttr(raw["Framed-IP-Address"])
	ev.MAC, _ = NormalizeAttr(raw["Calling-Station-Id"])

	if v, ok := NormalizeAttr(raw["Acct-Input-Octets"]); ok {
		ev.BytesIn, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := NormalizeAttr(raw["Acct-Output-Octets"]); ok {
		ev.BytesOut, _ = strconv.ParseInt(v, 10, 64)
	}

	return ev, nil
}

// AccountingService reconciles accounting events against the session table
// and subscriber online flags.
type AccountingService struct {
	db     DB
	logger zerolog.Logger
}

func NewAccountingService(db DB, logger zerolog.Logger) *AccountingService {
	return &AccountingService{
		db:     db,
		logger: logger.With().Str("component", "accounting").Logger(),
	}
}

// Process applies one raw accounting payload. Configuration problems return
// typed errors; anything transport-shaped was already absorbed upstream.
func (s *AccountingService) Process(ctx context.Context, raw map[string]any) error {
	ev, err := ParseAccountingEvent(raw)
	if err != nil {
		return err
	}

	router, err := s.routerByNASAddress(ctx, ev.NASAddress)
	if err != nil {
		return err
	}

	subscriberID, err := s.resolveSubscriber(ctx, router.TenantID, ev.Username)
	if err != nil {
		return err
	}

	switch ev.StatusType {
	case AcctStart, AcctInterim:
		return s.processStart(ctx, router, subscriberID, ev)
	case AcctStop:
		return s.processStop(ctx, router.TenantID, subscriberID, ev)
	default:
		s.logger.Warn().Str("status_type", ev.StatusType).Str("session_id", ev.SessionID).
			Msg("unrecognized accounting status type, dropping event")
		return nil
	}
}

func (s *AccountingService) routerByNASAddress(ctx context.Context, nasAddr string) (*model.Router, error) {
	if nasAddr == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnknownNASAddress)
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+routerColumns+` FROM routers WHERE wg_address = $1 OR ip_address = $1 LIMIT 1`,
		nasAddr)
	r, err := scanRouter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNASAddress, nasAddr)
		}
		return nil, fmt.Errorf("look up router by nas address %s: %w", nasAddr, err)
	}
	return &r, nil
}

// resolveSubscriber matches the username case-insensitively within the
// router's tenant. A miss is tolerated: the session is recorded unmatched.
// Anything other than a miss is a real failure and aborts the event, so a
// flaky database never silently strips the subscriber reference.
func (s *AccountingService) resolveSubscriber(ctx context.Context, tenantID int64, username string) (*int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`SELECT id FROM subscribers WHERE tenant_id = $1 AND lower(username) = lower($2) LIMIT 1`,
		tenantID, username).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Warn().Int64("tenant_id", tenantID).Str("username", username).
			Msg("accounting event for unmatched subscriber")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up subscriber %s: %w", username, err)
	}
	return &id, nil
}

func (s *AccountingService) processStart(ctx context.Context, router *model.Router, subscriberID *int64, ev AccountingEvent) error {
	// Supersede: a subscriber reconnecting gets a fresh session id, so any
	// other active session for the same identity is stale. The MAC match
	// catches device roaming under a different username; it can over-match
	// when several logins share one MAC behind NAT.
	_, err := s.db.Exec(ctx,
		`UPDATE sessions SET status = $1, disconnected_at = now()
		 WHERE tenant_id = $2 AND status = $3 AND session_id != $4
		   AND (lower(username) = lower($5) OR ($6 != '' AND mac_address = $6))`,
		model.SessionDisconnected, router.TenantID, model.SessionActive,
		ev.SessionID, ev.Username, ev.MAC,
	)
	if err != nil {
		return fmt.Errorf("supersede sessions for %s: %w", ev.Username, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO sessions (session_id, tenant_id, router_id, subscriber_id, username, ip_address, mac_address, status, connected_at, last_seen_at, bytes_in, bytes_out)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now(), $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			ip_address = EXCLUDED.ip_address,
			mac_address = EXCLUDED.mac_address,
			last_seen_at = now(),
			disconnected_at = NULL,
			bytes_in = EXCLUDED.bytes_in,
			bytes_out = EXCLUDED.bytes_out`,
		ev.SessionID, router.TenantID, router.ID, subscriberID, ev.Username,
		ev.FramedIP, ev.MAC, model.SessionActive, ev.BytesIn, ev.BytesOut,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", ev.SessionID, err)
	}

	if subscriberID != nil {
		_, err = s.db.Exec(ctx,
			`UPDATE subscribers SET is_online = true, updated_at = now() WHERE id = $1`,
			*subscriberID)
		if err != nil {
			return fmt.Errorf("mark subscriber %d online: %w", *subscriberID, err)
		}
	}

	return nil
}

func (s *AccountingService) processStop(ctx context.Context, tenantID int64, subscriberID *int64, ev AccountingEvent) error {
	// Idempotent: stopping an unknown or already-disconnected session does
	// nothing.
	_, err := s.db.Exec(ctx,
		`UPDATE sessions SET status = $1, disconnected_at = now(), last_seen_at = now(),
		 bytes_in = GREATEST(bytes_in, $2), bytes_out = GREATEST(bytes_out, $3)
		 WHERE session_id = $4 AND status = $5`,
		model.SessionDisconnected, ev.BytesIn, ev.BytesOut,
		ev.SessionID, model.SessionActive,
	)
	if err != nil {
		return fmt.Errorf("stop session %s: %w", ev.SessionID, err)
	}

	if subscriberID != nil {
		// Only clear the flag when nothing else is active for the account.
		_, err = s.db.Exec(ctx,
			`UPDATE subscribers SET is_online = false, updated_at = now()
			 WHERE id = $1 AND NOT EXISTS (
				SELECT 1 FROM sessions
				WHERE tenant_id = $2 AND lower(username) = lower($3) AND status = $4)`,
			*subscriberID, tenantID, ev.Username, model.SessionActive,
		)
		if err != nil {
			return fmt.Errorf("mark subscriber %d offline: %w", *subscriberID, err)
		}
	}

	return nil
}

// CleanupStale flips active sessions that have not been seen within the
// window to disconnected and clears online flags with no active session
// left behind them. Interim updates normally keep last_seen_at fresh; a
// router that died without sending Stops is what this catches.
func (s *AccountingService) CleanupStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.Exec(ctx,
		`UPDATE sessions SET status = $1, disconnected_at = now()
		 WHERE status = $2 AND last_seen_at < $3`,
		model.SessionDisconnected, model.SessionActive, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	stale := result.RowsAffected()

	_, err = s.db.Exec(ctx,
		`UPDATE subscribers sub SET is_online = false, updated_at = now()
		 WHERE sub.is_online AND NOT EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.subscriber_id = sub.id AND s.status = $1)`,
		model.SessionActive,
	)
	if err != nil {
		return stale, fmt.Errorf("clear orphaned online flags: %w", err)
	}

	if stale > 0 {
		s.logger.Info().Int64("sessions", stale).Msg("stale sessions disconnected")
	}
	return stale, nil
}

// ListSessionsByTenant returns sessions newest-first for the admin surface.
func (s *AccountingService) ListSessionsByTenant(ctx context.Context, tenantID int64, limit int) ([]model.Session, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, tenant_id, router_id, subscriber_id, username, ip_address, mac_address, status, connected_at, last_seen_at, disconnected_at, bytes_in, bytes_out
		FROM sessions WHERE tenant_id = $1
		ORDER BY connected_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions for tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.SessionID, &sess.TenantID, &sess.RouterID,
			&sess.SubscriberID, &sess.Username, &sess.IPAddress, &sess.MACAddress,
			&sess.Status, &sess.ConnectedAt, &sess.LastSeenAt, &sess.DisconnectedAt,
			&sess.BytesIn, &sess.BytesOut); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
