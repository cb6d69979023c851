package model

import "time"

// Subscriber service types.
const (
	ServiceHotspot = "hotspot"
	ServicePPPoE   = "pppoe"
)

// Subscriber is a billing-side account that attaches through a router.
// Only the fields the connectivity core needs are modeled here; plans,
// invoices and payments live in the billing system.
type Subscriber struct {
	ID          int64      `json:"id" db:"id"`
	TenantID    int64      `json:"tenant_id" db:"tenant_id"`
	RouterID    *int64     `json:"router_id,omitempty" db:"router_id"`
	PackageID   *int64     `json:"package_id,omitempty" db:"package_id"`
	Username    string     `json:"username" db:"username"`
	ServiceType string     `json:"service_type" db:"service_type"`
	IsOnline    bool       `json:"is_online" db:"is_online"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Status      string     `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
