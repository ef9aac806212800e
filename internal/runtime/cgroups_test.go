package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newAvailableManager(t *testing.T) *cgroupManager {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgroup.controllers"), []byte("cpu memory pids"), 0o644))
	return newCgroupManager(root)
}

func TestNewCgroupManagerDetectsUnavailability(t *testing.T) {
	m := newCgroupManager(t.TempDir())
	require.False(t, m.available)
	// Every operation degrades to a no-op rather than erroring.
	require.NoError(t, m.create("c1"))
	require.NoError(t, m.apply("c1", ResourceLimits{MemoryBytes: 1 << 20}))
	require.NoError(t, m.addProcess("c1", os.Getpid()))
}

func TestNewCgroupManagerDetectsAvailability(t *testing.T) {
	m := newAvailableManager(t)
	require.True(t, m.available)
}

func TestApplyWritesMemoryLimitAndDisablesSwap(t *testing.T) {
	m := newAvailableManager(t)
	require.NoError(t, m.apply("c1", ResourceLimits{MemoryBytes: 134217728}))

	mem, err := os.ReadFile(filepath.Join(m.path("c1"), "memory.max"))
	require.NoError(t, err)
	require.Equal(t, "134217728", string(mem))

	swap, err := os.ReadFile(filepath.Join(m.path("c1"), "memory.swap.max"))
	require.NoError(t, err)
	require.Equal(t, "0", string(swap))
}

func TestApplyConvertsCPUSharesToWeightWithinBounds(t *testing.T) {
	m := newAvailableManager(t)

	cases := []struct {
		shares int64
		want   string
	}{
		{shares: 1024, want: "100"},   // docker default -> cgroups v2 default weight
		{shares: 2, want: "1"},        // clamps to the floor
		{shares: 1 << 20, want: "10000"}, // clamps to the ceiling
	}
	for _, c := range cases {
		require.NoError(t, m.apply("c-"+c.want, ResourceLimits{CPUShares: c.shares}))
		got, err := os.ReadFile(filepath.Join(m.path("c-"+c.want), "cpu.weight"))
		require.NoError(t, err)
		require.Equal(t, c.want, string(got))
	}
}

func TestApplyWritesCPUQuotaAsHundredMillisecondPeriod(t *testing.T) {
	m := newAvailableManager(t)
	require.NoError(t, m.apply("c1", ResourceLimits{CPUQuotaUs: 50000}))

	got, err := os.ReadFile(filepath.Join(m.path("c1"), "cpu.max"))
	require.NoError(t, err)
	require.Equal(t, "50000 100000", string(got))
}

func TestApplyWritesPIDsLimit(t *testing.T) {
	m := newAvailableManager(t)
	require.NoError(t, m.apply("c1", ResourceLimits{PIDsLimit: 32}))

	got, err := os.ReadFile(filepath.Join(m.path("c1"), "pids.max"))
	require.NoError(t, err)
	require.Equal(t, "32", string(got))
}

func TestApplySkipsUnsetLimits(t *testing.T) {
	m := newAvailableManager(t)
	require.NoError(t, m.apply("c1", ResourceLimits{}))

	_, err := os.Stat(filepath.Join(m.path("c1"), "memory.max"))
	require.True(t, os.IsNotExist(err))
}

func TestRemoveTearsDownCgroupDirectory(t *testing.T) {
	m := newAvailableManager(t)
	require.NoError(t, m.create("c1"))
	m.remove("c1")
	_, err := os.Stat(m.path("c1"))
	require.True(t, os.IsNotExist(err))
}
