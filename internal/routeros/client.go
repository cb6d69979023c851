// Package routeros wraps the RouterOS management API for one router at a
// time: address and credential resolution, a lazily cached connection with a
// short dial timeout and a single retry, and typed accessors over the raw
// sentence protocol. Transport faults never escape as-is; every operation
// has a documented failure value.
package routeros

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/netip"
	"time"

	routerosapi "github.com/go-routeros/routeros/v3"
	"github.com/rs/zerolog"

	"github.com/wisprnet/fleet/internal/model"
)

var (
	// ErrMissingTunnelAddress: no tunnel address and the legacy fallback
	// did not apply.
	ErrMissingTunnelAddress = errors.New("router has no tunnel address")
	// ErrInvalidAddress: the resolved address is not well-formed IPv4.
	ErrInvalidAddress = errors.New("router address is not a valid IPv4 address")
	// ErrMissingCredentials: neither API nor admin credentials are set.
	ErrMissingCredentials = errors.New("router has no API credentials")
)

// DefaultTimeout bounds each dial attempt. The tunnel is either up or down;
// there is nothing to gain from waiting longer or backing off.
const DefaultTimeout = 2500 * time.Millisecond

// Conn is the slice of the RouterOS API client the wrapper uses. Tests
// substitute a fake.
type Conn interface {
	RunContext(ctx context.Context, sentence ...string) (*routerosapi.Reply, error)
	Close() error
}

// DialFunc opens an authenticated API session.
type DialFunc func(address, username, password string, useTLS bool, timeout time.Duration) (Conn, error)

func defaultDial(address, username, password string, useTLS bool, timeout time.Duration) (Conn, error) {
	if useTLS {
		return routerosapi.DialTLSTimeout(address, username, password, &tls.Config{InsecureSkipVerify: true}, timeout)
	}
	return routerosapi.DialTimeout(address, username, password, timeout)
}

// Config carries the client knobs that come from daemon configuration.
type Config struct {
	// TunnelCIDR enables the legacy fallback: routers provisioned before
	// the mesh may carry a tunnel-subnet address in the general IP field.
	TunnelCIDR string
	Timeout    time.Duration
	Dial       DialFunc
}

// Client is a per-router connection handle. It is owned by the caller for
// one logical operation or sweep unit; there is no process-wide cache.
type Client struct {
	logger  zerolog.Logger
	router  *model.Router
	timeout time.Duration
	dial    DialFunc
	tunnel  netip.Prefix

	conn Conn
}

func NewClient(logger zerolog.Logger, router *model.Router, cfg Config) *Client {
	c := &Client{
		logger: logger.With().
			Str("component", "routeros").
			Int64("router_id", router.ID).
			Logger(),
		router:  router,
		timeout: cfg.Timeout,
		dial:    cfg.Dial,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.dial == nil {
		c.dial = defaultDial
	}
	if prefix, err := netip.ParsePrefix(cfg.TunnelCIDR); err == nil {
		c.tunnel = prefix
	}
	return c
}

// resolveAddress picks the management address: the tunnel address, or the
// general IP field when it falls inside the tunnel subnet (pre-mesh
// routers). The public address is never dialed.
func (c *Client) resolveAddress() (string, error) {
	addr := c.router.TunnelAddress()
	if addr == "" && c.router.IPAddress != nil && c.tunnel.IsValid() {
		if ip, err := netip.ParseAddr(*c.router.IPAddress); err == nil && c.tunnel.Contains(ip) {
			addr = *c.router.IPAddress
		}
	}
	if addr == "" {
		return "", fmt.Errorf("%w: router %d", ErrMissingTunnelAddress, c.router.ID)
	}

	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return addr, nil
}

// resolveCredentials prefers dedicated API credentials over the admin login.
func (c *Client) resolveCredentials() (username, password string, err error) {
	if c.router.APIUsername != nil && *c.router.APIUsername != "" {
		password = ""
		if c.router.APIPassword != nil {
			password = *c.router.APIPassword
		}
		return *c.router.APIUsername, password, nil
	}
	if c.router.Username != "" {
		return c.router.Username, c.router.Password, nil
	}
	return "", "", fmt.Errorf("%w: router %d", ErrMissingCredentials, c.router.ID)
}

// Connect establishes and caches the API session. Exactly one retry: the
// tunnel is binary, not flaky.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	addr, err := c.resolveAddress()
	if err != nil {
		return err
	}
	username, password, err := c.resolveCredentials()
	if err != nil {
		return err
	}

	target := fmt.Sprintf("%s:%d", addr, c.router.APIPort)
	var dialErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := c.dial(target, username, password, c.router.APITLS, c.timeout)
		if err == nil {
			c.conn = conn
			return nil
		}
		dialErr = err
	}

	c.logger.Warn().Err(dialErr).
		Str("address", addr).
		Str("user", maskUser(username)).
		Msg("router API connection failed")
	return fmt.Errorf("connect router %d at %s: %w", c.router.ID, addr, dialErr)
}

// Close releases the cached connection, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// run connects lazily and executes one sentence under the client timeout.
func (c *Client) run(ctx context.Context, sentence ...string) (*routerosapi.Reply, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.conn.RunContext(ctx, sentence...)
	if err != nil {
		// A failed command poisons the cached session; drop it so the
		// next call redials.
		c.Close()
		return nil, fmt.Errorf("router %d command %s: %w", c.router.ID, sentence[0], err)
	}
	return reply, nil
}

// IsOnline issues a trivial read. It never returns an error: any failure is
// logged and reduces to false.
func (c *Client) IsOnline(ctx context.Context) bool {
	_, err := c.run(ctx, "/system/identity/print")
	if err != nil {
		c.logger.Warn().Err(err).
			Str("address", c.router.TunnelAddress()).
			Msg("router offline")
		return false
	}
	return true
}

// PingResult is an application-level round trip, not ICMP: ICMP may be
// filtered while the API is reachable, and the API latency is the one that
// matters for monitoring.
type PingResult struct {
	Online    bool     `json:"online"`
	LatencyMs *float64 `json:"latency_ms,omitempty"`
}

func (c *Client) Ping(ctx context.Context) PingResult {
	start := time.Now()
	if !c.IsOnline(ctx) {
		return PingResult{Online: false}
	}
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	return PingResult{Online: true, LatencyMs: &latency}
}

// Reboot is fire and forget; the connection dropping mid-command is the
// expected outcome.
func (c *Client) Reboot(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	_, _ = c.conn.RunContext(ctx, "/system/reboot")
	c.Close()
	return nil
}

func maskUser(username string) string {
	if len(username) <= 2 {
		return "**"
	}
	return username[:2] + "***"
}
