package core

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrInvalidPool is returned when the tunnel pool is not a valid IPv4 CIDR.
	ErrInvalidPool = errors.New("invalid tunnel pool")
	// ErrPoolExhausted is returned when a router id maps past the pool's
	// usable host range.
	ErrPoolExhausted = errors.New("tunnel pool exhausted")
)

// WinboxPortBase is the first port handed out for NAT-forwarded Winbox
// access. DeriveForwardingPort counts up from here.
const WinboxPortBase = 5000

// DeriveTunnelAddress maps a router id to its tunnel address inside the
// shared pool. The mapping is pure: host number = router id + 1, so the
// same id always yields the same address and distinct ids never collide.
// Host 1 is reserved for the hub's own interface address.
func DeriveTunnelAddress(pool string, routerID int64) (netip.Addr, error) {
	prefix, err := netip.ParsePrefix(pool)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q: %v", ErrInvalidPool, pool, err)
	}
	if !prefix.Addr().Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q: not IPv4", ErrInvalidPool, pool)
	}
	if routerID < 1 {
		return netip.Addr{}, fmt.Errorf("%w: router id %d", ErrPoolExhausted, routerID)
	}

	hostBits := 32 - prefix.Bits()
	// A /31 or /32 has no host range to subtract network and broadcast
	// addresses from; the shift below would underflow.
	if hostBits < 2 {
		return netip.Addr{}, fmt.Errorf("%w: /%d has no usable hosts", ErrPoolExhausted, prefix.Bits())
	}
	// Usable hosts exclude the network and broadcast addresses; host 1 is
	// the hub, so routers occupy hosts 2..2^hostBits-2.
	maxHost := uint64(1)<<hostBits - 2
	hostNum := uint64(routerID) + 1
	if hostNum > maxHost {
		return netip.Addr{}, fmt.Errorf("%w: router id %d exceeds /%d capacity", ErrPoolExhausted, routerID, prefix.Bits())
	}

	base := prefix.Masked().Addr().As4()
	n := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	n += uint32(hostNum)
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}), nil
}

// DeriveForwardingPort picks the next Winbox forwarding port given the ports
// already assigned across the fleet. It is monotonic: max(assigned)+1, never
// below the base, so re-running against a partially populated fleet never
// hands out a port twice. A non-positive base falls back to WinboxPortBase.
func DeriveForwardingPort(base int, assigned []int) int {
	if base <= 0 {
		base = WinboxPortBase
	}
	next := base
	for _, p := range assigned {
		if p >= next {
			next = p + 1
		}
	}
	return next
}
