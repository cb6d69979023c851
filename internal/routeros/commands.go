package routeros

import (
	"context"
	"fmt"

	"github.com/wisprnet/fleet/internal/model"
)

// DisconnectUser kicks every active session for the username, scoped to the
// given service type. A username with no active session is a no-op.
func (c *Client) DisconnectUser(ctx context.Context, serviceType, username string) error {
	var listPath, removePath, nameKey string
	switch serviceType {
	case model.ServiceHotspot:
		listPath, removePath, nameKey = "/ip/hotspot/active/print", "/ip/hotspot/active/remove", "user"
	case model.ServicePPPoE:
		listPath, removePath, nameKey = "/ppp/active/print", "/ppp/active/remove", "name"
	default:
		return fmt.Errorf("unknown service type %q", serviceType)
	}

	reply, err := c.run(ctx, listPath, "?"+nameKey+"="+username)
	if err != nil {
		return err
	}
	for _, id := range sentenceIDs(reply.Re) {
		if _, err := c.run(ctx, removePath, "=.id="+id); err != nil {
			return err
		}
	}
	return nil
}

// EnableWinboxAccess opens the device's Winbox service (port 8291) to any
// source so the NAT port-forward on the hub reaches it over the tunnel.
// Idempotent: re-applying the same service settings is harmless.
func (c *Client) EnableWinboxAccess(ctx context.Context) error {
	reply, err := c.run(ctx, "/ip/service/print", "?name=winbox")
	if err != nil {
		return err
	}
	if len(reply.Re) == 0 {
		return fmt.Errorf("router %d has no winbox service entry", c.router.ID)
	}
	_, err = c.run(ctx, "/ip/service/set",
		"=.id="+reply.Re[0].Map[".id"],
		"=address=",
		"=disabled=no",
	)
	return err
}

// EnsureHotspotProfile creates or updates the named user profile so the
// device matches the package definition. Lookup is by name; re-running with
// the same values is idempotent either way.
func (c *Client) EnsureHotspotProfile(ctx context.Context, profile HotspotProfile) error {
	reply, err := c.run(ctx, "/ip/hotspot/user/profile/print", "?name="+profile.Name)
	if err != nil {
		return err
	}

	args := []string{
		"=rate-limit=" + profile.RateLimit,
		"=session-timeout=" + fmt.Sprintf("%d", profile.SessionTimeoutSecs),
		"=shared-users=" + fmt.Sprintf("%d", profile.SharedUsers),
	}

	if len(reply.Re) > 0 {
		set := append([]string{"/ip/hotspot/user/profile/set", "=.id=" + reply.Re[0].Map[".id"]}, args...)
		_, err = c.run(ctx, set...)
		return err
	}

	add := append([]string{"/ip/hotspot/user/profile/add", "=name=" + profile.Name}, args...)
	_, err = c.run(ctx, add...)
	return err
}

// CreateHotspotUser adds a voucher user. If the name already exists on the
// device the call is a silent no-op, never an overwrite.
func (c *Client) CreateHotspotUser(ctx context.Context, username, password, profile string) error {
	reply, err := c.run(ctx, "/ip/hotspot/user/print", "?name="+username)
	if err != nil {
		return err
	}
	if len(reply.Re) > 0 {
		return nil
	}
	_, err = c.run(ctx, "/ip/hotspot/user/add",
		"=name="+username,
		"=password="+password,
		"=profile="+profile,
	)
	return err
}

// RemoveHotspotUser deletes every user entry matching the name. Nothing to
// delete, or an unreachable router, is a no-op.
func (c *Client) RemoveHotspotUser(ctx context.Context, username string) error {
	reply, err := c.run(ctx, "/ip/hotspot/user/print", "?name="+username)
	if err != nil {
		c.logger.Warn().Err(err).Str("voucher", username).
			Msg("voucher removal skipped, router unreachable")
		return nil
	}
	for _, id := range sentenceIDs(reply.Re) {
		if _, err := c.run(ctx, "/ip/hotspot/user/remove", "=.id="+id); err != nil {
			return err
		}
	}
	return nil
}
