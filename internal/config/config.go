package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string

	// WireGuard mesh settings.
	WGInterface string
	// WGTunnelCIDR is the shared tunnel pool, e.g. "10.100.0.0/16".
	// Router tunnel addresses are derived from it; the legacy address
	// fallback in the RouterOS client checks membership in it.
	WGTunnelCIDR string
	// WGAutoSync gates peer apply/remove on router lifecycle events.
	// When false peers are only touched via explicit reconcile calls.
	WGAutoSync bool

	WinboxPortBase int

	RouterAPITimeout    time.Duration
	SyncInterval        time.Duration
	SyncWorkers         int
	WGReconcileInterval time.Duration
	SessionStaleAfter   time.Duration

	RADIUSFallbackSecret string
	RADIUSServerTag      string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		HTTPListenAddr:       getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsListenAddr:    getEnv("METRICS_LISTEN_ADDR", ":9091"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		ServiceName:          getEnv("SERVICE_NAME", "fleetd"),
		WGInterface:          getEnv("WG_INTERFACE", "wg0"),
		WGTunnelCIDR:         getEnv("WG_TUNNEL_CIDR", "10.100.0.0/16"),
		RADIUSFallbackSecret: getEnv("RADIUS_FALLBACK_SECRET", ""),
		RADIUSServerTag:      getEnv("RADIUS_SERVER_TAG", ""),
	}

	var err error
	if cfg.WGAutoSync, err = getBool("WG_AUTO_SYNC", true); err != nil {
		return nil, err
	}
	if cfg.WinboxPortBase, err = getInt("WINBOX_PORT_BASE", 5000); err != nil {
		return nil, err
	}
	if cfg.SyncWorkers, err = getInt("SYNC_WORKERS", 16); err != nil {
		return nil, err
	}
	if cfg.RouterAPITimeout, err = getDuration("ROUTER_API_TIMEOUT", 2500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WGReconcileInterval, err = getDuration("WG_RECONCILE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionStaleAfter, err = getDuration("SESSION_STALE_AFTER", 15*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
