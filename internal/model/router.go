package model

import "time"

type Router struct {
	ID       int64  `json:"id" db:"id"`
	TenantID int64  `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`

	// IPAddress is the general management address, kept for routers
	// provisioned before the tunnel mesh existed.
	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`

	Username string `json:"username" db:"username"`
	Password string `json:"-" db:"password"`

	// Dedicated API credentials. When set they take priority over the
	// admin login for RouterOS API sessions.
	APIUsername *string `json:"api_username,omitempty" db:"api_username"`
	APIPassword *string `json:"-" db:"api_password"`
	APIPort     int     `json:"api_port" db:"api_port"`
	APITLS      bool    `json:"api_tls" db:"api_tls"`

	// WireGuard tunnel identity. The tunnel address is assigned once at
	// creation and never reassigned while the router exists.
	WGPublicKey  *string `json:"wg_public_key,omitempty" db:"wg_public_key"`
	WGAddress    *string `json:"wg_address,omitempty" db:"wg_address"`
	WGAllowedIPs string  `json:"wg_allowed_ips" db:"wg_allowed_ips"`

	WinboxPort    *int `json:"winbox_port,omitempty" db:"winbox_port"`
	WinboxEnabled bool `json:"winbox_enabled" db:"winbox_enabled"`

	Status          string     `json:"status" db:"status"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CPULoad         float64    `json:"cpu_load" db:"cpu_load"`
	MemoryUsed      float64    `json:"memory_used" db:"memory_used"`
	HotspotSessions int        `json:"hotspot_sessions" db:"hotspot_sessions"`
	PPPoESessions   int        `json:"pppoe_sessions" db:"pppoe_sessions"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TunnelAddress returns the router's tunnel address, or "" if unassigned.
func (r *Router) TunnelAddress() string {
	if r.WGAddress == nil {
		return ""
	}
	return *r.WGAddress
}

// PublicKey returns the router's WireGuard public key, or "" if not onboarded.
func (r *Router) PublicKey() string {
	if r.WGPublicKey == nil {
		return ""
	}
	return *r.WGPublicKey
}

// SyncEligible reports whether the fleet sync loop should touch this router.
func (r *Router) SyncEligible() bool {
	return r.TunnelAddress() != "" && (r.Username != "" || r.APIUsername != nil)
}

// SweepResult is the per-router outcome of one fleet sync unit.
type SweepResult struct {
	RouterID        int64      `json:"router_id"`
	Status          string     `json:"status"`
	CPULoad         float64    `json:"cpu_load"`
	MemoryUsed      float64    `json:"memory_used"`
	HotspotSessions int        `json:"hotspot_sessions"`
	PPPoESessions   int        `json:"pppoe_sessions"`
	Error           string     `json:"error,omitempty"`
	SeenAt          *time.Time `json:"seen_at,omitempty"`
}
