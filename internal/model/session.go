package model

import "time"

// Session statuses.
const (
	SessionActive       = "active"
	SessionDisconnected = "disconnected"
)

// Session is one subscriber's network attachment as reported by RADIUS
// accounting. The session id comes from the accounting protocol and is
// unique per attachment; a reconnecting subscriber shows up under a new id.
type Session struct {
	ID             int64      `json:"id" db:"id"`
	SessionID      string     `json:"session_id" db:"session_id"`
	TenantID       int64      `json:"tenant_id" db:"tenant_id"`
	RouterID       int64      `json:"router_id" db:"router_id"`
	SubscriberID   *int64     `json:"subscriber_id,omitempty" db:"subscriber_id"`
	Username       string     `json:"username" db:"username"`
	IPAddress      string     `json:"ip_address" db:"ip_address"`
	MACAddress     string     `json:"mac_address" db:"mac_address"`
	Status         string     `json:"status" db:"status"`
	ConnectedAt    time.Time  `json:"connected_at" db:"connected_at"`
	LastSeenAt     time.Time  `json:"last_seen_at" db:"last_seen_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty" db:"disconnected_at"`
	BytesIn        int64      `json:"bytes_in" db:"bytes_in"`
	BytesOut       int64      `json:"bytes_out" db:"bytes_out"`
}
