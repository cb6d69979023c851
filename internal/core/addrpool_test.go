package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTunnelAddress_Deterministic(t *testing.T) {
	a, err := DeriveTunnelAddress("10.100.0.0/16", 7)
	require.NoError(t, err)
	b, err := DeriveTunnelAddress("10.100.0.0/16", 7)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDeriveTunnelAddress_HubReserved(t *testing.T) {
	// Host 1 belongs to the hub; the first router lands on host 2.
	addr, err := DeriveTunnelAddress("10.100.0.0/16", 1)
	require.NoError(t, err)
	assert.Equal(t, "10.100.0.2", addr.String())
}

func TestDeriveTunnelAddress_DistinctIDsNeverCollide(t *testing.T) {
	seen := map[string]int64{}
	for id := int64(1); id <= 600; id++ {
		addr, err := DeriveTunnelAddress("10.100.0.0/16", id)
		require.NoError(t, err)
		prev, dup := seen[addr.String()]
		require.False(t, dup, "id %d collides with id %d on %s", id, prev, addr)
		seen[addr.String()] = id
	}
}

func TestDeriveTunnelAddress_CrossesOctetBoundary(t *testing.T) {
	addr, err := DeriveTunnelAddress("10.100.0.0/16", 254)
	require.NoError(t, err)
	assert.Equal(t, "10.100.1.0", addr.String())
}

func TestDeriveTunnelAddress_InvalidPool(t *testing.T) {
	_, err := DeriveTunnelAddress("not-a-cidr", 1)
	assert.ErrorIs(t, err, ErrInvalidPool)

	_, err = DeriveTunnelAddress("fd00::/64", 1)
	assert.ErrorIs(t, err, ErrInvalidPool)
}

func TestDeriveTunnelAddress_Exhaustion(t *testing.T) {
	// A /30 has hosts 1..2; host 1 is the hub, so only router id 1 fits.
	addr, err := DeriveTunnelAddress("10.0.0.0/30", 1)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", addr.String())

	_, err = DeriveTunnelAddress("10.0.0.0/30", 2)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestDeriveTunnelAddress_RejectsNonPositiveID(t *testing.T) {
	_, err := DeriveTunnelAddress("10.100.0.0/16", 0)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestDeriveTunnelAddress_HostlessPrefixes(t *testing.T) {
	// /31 and /32 leave no room for the hub, let alone routers; any id
	// must fail rather than yield an address outside the pool.
	for _, pool := range []string{"10.0.0.0/31", "10.0.0.0/32"} {
		_, err := DeriveTunnelAddress(pool, 1)
		assert.ErrorIs(t, err, ErrPoolExhausted, "pool %s", pool)

		_, err = DeriveTunnelAddress(pool, 5)
		assert.ErrorIs(t, err, ErrPoolExhausted, "pool %s", pool)
	}
}

func TestDeriveForwardingPort_EmptyFleet(t *testing.T) {
	assert.Equal(t, WinboxPortBase, DeriveForwardingPort(0, nil))
}

func TestDeriveForwardingPort_Monotonic(t *testing.T) {
	assigned := []int{5000, 5001, 5002}
	next := DeriveForwardingPort(0, assigned)
	assert.Equal(t, 5003, next)

	// Gaps are never refilled; a freed port stays retired.
	assert.Equal(t, 5011, DeriveForwardingPort(0, []int{5000, 5010}))
}

func TestDeriveForwardingPort_NeverBelowBase(t *testing.T) {
	assert.Equal(t, WinboxPortBase, DeriveForwardingPort(0, []int{80, 443}))
}

func TestDeriveForwardingPort_ConfiguredBase(t *testing.T) {
	assert.Equal(t, 9000, DeriveForwardingPort(9000, nil))
	assert.Equal(t, 9004, DeriveForwardingPort(9000, []int{9000, 9003}))
	// Ports handed out under an older, lower base stay retired.
	assert.Equal(t, 9000, DeriveForwardingPort(9000, []int{5000, 5001}))
}

func TestDeriveForwardingPort_NeverReturnsAssigned(t *testing.T) {
	assigned := []int{5000, 5003, 5007}
	next := DeriveForwardingPort(0, assigned)
	for _, p := range assigned {
		assert.NotEqual(t, p, next)
	}
}
