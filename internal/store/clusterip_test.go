package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClusterIPAllocatorSkipsNetworkAddress(t *testing.T) {
	alloc, err := NewClusterIPAllocator()
	require.NoError(t, err)

	got, err := alloc.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, "10.96.0.0", got)
	require.Equal(t, "10.96.0.1", got)
}

func TestClusterIPAllocatorNeverHandsOutDuplicates(t *testing.T) {
	alloc, err := NewClusterIPAllocator()
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		ip, err := alloc.Allocate()
		require.NoError(t, err)
		require.False(t, seen[ip], "duplicate allocation: %s", ip)
		seen[ip] = true
	}
}

func TestClusterIPAllocatorReleaseMakesAddressReusable(t *testing.T) {
	alloc, err := NewClusterIPAllocator()
	require.NoError(t, err)

	first, err := alloc.Allocate()
	require.NoError(t, err)

	alloc.Release(first)

	second, err := alloc.Allocate()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestClusterIPAllocatorRehydrateMarksAddressesUsed(t *testing.T) {
	alloc, err := NewClusterIPAllocator()
	require.NoError(t, err)

	alloc.Rehydrate([]string{"10.96.0.1", "10.96.0.2", ""})

	got, err := alloc.Allocate()
	require.NoError(t, err)
	require.Equal(t, "10.96.0.3", got)
}

func TestClusterIPAllocatorExhaustionReturnsError(t *testing.T) {
	alloc, err := NewClusterIPAllocator()
	require.NoError(t, err)

	// /24 minus network+broadcast leaves 254 usable addresses.
	for i := 0; i < 254; i++ {
		_, err := alloc.Allocate()
		require.NoError(t, err)
	}
	_, err = alloc.Allocate()
	require.Error(t, err)
}
