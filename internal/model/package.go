package model

import "time"

// Package is a billing plan definition, read-only input to hotspot
// profile sync. The name doubles as the device-side profile name.
type Package struct {
	ID            int64     `json:"id" db:"id"`
	TenantID      int64     `json:"tenant_id" db:"tenant_id"`
	Name          string    `json:"name" db:"name"`
	ServiceType   string    `json:"service_type" db:"service_type"`
	UploadMbps    int       `json:"upload_mbps" db:"upload_mbps"`
	DownloadMbps  int       `json:"download_mbps" db:"download_mbps"`
	DurationValue int       `json:"duration_value" db:"duration_value"`
	DurationUnit  string    `json:"duration_unit" db:"duration_unit"`
	SharedUsers   int       `json:"shared_users" db:"shared_users"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
