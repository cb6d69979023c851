// Package wgmesh keeps the hub's live WireGuard interface converged to the
// router table. The router record is the source of truth; the kernel
// interface is a cache that this package pulls back into line on lifecycle
// events and on a periodic full sweep.
package wgmesh

import (
	"fmt"
	"net"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// PeerSpec is the desired state for one peer: public key plus allowed IPs.
// Endpoints are not tracked centrally; routers roam.
type PeerSpec struct {
	PublicKey  string
	AllowedIPs []string
}

// Device abstracts the live WireGuard interface. The wgctrl implementation
// talks to the kernel; tests use a fake.
type Device interface {
	// Peers returns the live peer table keyed by public key.
	Peers() (map[string]PeerSpec, error)
	// ApplyPeer adds or updates a peer, replacing its allowed IPs.
	ApplyPeer(spec PeerSpec) error
	// RemovePeer removes a peer by public key. Absence is not an error.
	RemovePeer(publicKey string) error
}

// WGCtrlDevice drives a named interface through the wgctrl socket.
type WGCtrlDevice struct {
	client *wgctrl.Client
	iface  string
}

func NewWGCtrlDevice(iface string) (*WGCtrlDevice, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("open wgctrl: %w", err)
	}
	return &WGCtrlDevice{client: client, iface: iface}, nil
}

func (d *WGCtrlDevice) Close() error {
	return d.client.Close()
}

func (d *WGCtrlDevice) Peers() (map[string]PeerSpec, error) {
	dev, err := d.client.Device(d.iface)
	if err != nil {
		return nil, fmt.Errorf("read device %s: %w", d.iface, err)
	}

	peers := make(map[string]PeerSpec, len(dev.Peers))
	for _, p := range dev.Peers {
		spec := PeerSpec{PublicKey: p.PublicKey.String()}
		for _, ipnet := range p.AllowedIPs {
			spec.AllowedIPs = append(spec.AllowedIPs, ipnet.String())
		}
		peers[spec.PublicKey] = spec
	}
	return peers, nil
}

func (d *WGCtrlDevice) ApplyPeer(spec PeerSpec) error {
	key, err := wgtypes.ParseKey(spec.PublicKey)
	if err != nil {
		return fmt.Errorf("parse peer key: %w", err)
	}

	allowed := make([]net.IPNet, 0, len(spec.AllowedIPs))
	for _, cidr := range spec.AllowedIPs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return fmt.Errorf("parse allowed ip %q: %w", cidr, err)
		}
		allowed = append(allowed, *ipnet)
	}

	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:         key,
			ReplaceAllowedIPs: true,
			AllowedIPs:        allowed,
		}},
	}
	if err := d.client.ConfigureDevice(d.iface, cfg); err != nil {
		return fmt.Errorf("configure peer on %s: %w", d.iface, err)
	}
	return nil
}

func (d *WGCtrlDevice) RemovePeer(publicKey string) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("parse peer key: %w", err)
	}

	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey: key,
			Remove:    true,
		}},
	}
	if err := d.client.ConfigureDevice(d.iface, cfg); err != nil {
		return fmt.Errorf("remove peer from %s: %w", d.iface, err)
	}
	return nil
}
