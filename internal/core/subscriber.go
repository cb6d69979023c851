package core

import (
	"context"
	"fmt"

	"github.com/wisprnet/fleet/internal/model"
)

// SubscriberService exposes the subscriber fields the connectivity core
// touches: online state and expiry. Account management lives in billing.
type SubscriberService struct {
	db DB
}

func NewSubscriberService(db DB) *SubscriberService {
	return &SubscriberService{db: db}
}

// ListExpiredOnline returns subscribers whose plan has lapsed but who are
// still flagged online, grouped for the disconnect sweep.
func (s *SubscriberService) ListExpiredOnline(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, router_id, package_id, username, service_type, is_online, expires_at, status, created_at, updated_at
		FROM subscribers
		WHERE is_online AND expires_at IS NOT NULL AND expires_at < now()
		ORDER BY router_id`)
	if err != nil {
		return nil, fmt.Errorf("list expired online subscribers: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscriber
	for rows.Next() {
		var sub model.Subscriber
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.RouterID, &sub.PackageID,
			&sub.Username, &sub.ServiceType, &sub.IsOnline, &sub.ExpiresAt,
			&sub.Status, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return subs, nil
}

// MarkOffline force-clears the online flag, used after a device-side
// disconnect.
func (s *SubscriberService) MarkOffline(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE subscribers SET is_online = false, status = $1, updated_at = now() WHERE id = $2`,
		model.StatusExpired, id)
	if err != nil {
		return fmt.Errorf("mark subscriber %d offline: %w", id, err)
	}
	return nil
}
