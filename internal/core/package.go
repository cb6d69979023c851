package core

import (
	"context"
	"fmt"

	"github.com/wisprnet/fleet/internal/model"
)

// PackageService reads billing plan definitions. The billing system owns the
// table; this side only consumes it for hotspot profile sync.
type PackageService struct {
	db DB
}

func NewPackageService(db DB) *PackageService {
	return &PackageService{db: db}
}

const packageColumns = `id, tenant_id, name, service_type, upload_mbps, download_mbps, duration_value, duration_unit, shared_users, created_at, updated_at`

func (s *PackageService) ListByTenant(ctx context.Context, tenantID int64) ([]model.Package, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list packages for tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var packages []model.Package
	for rows.Next() {
		var p model.Package
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.ServiceType,
			&p.UploadMbps, &p.DownloadMbps, &p.DurationValue, &p.DurationUnit,
			&p.SharedUsers, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packages: %w", err)
	}
	return packages, nil
}
