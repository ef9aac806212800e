package runtime

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// cgroupRoot is where cgroups v2 is conventionally mounted.
const cgroupRoot = "/sys/fs/cgroup"

// cgroupManager translates container resource limits onto the cgroups
// v2 filesystem. It detects availability at construction and degrades
// gracefully when cgroups v2 is not mounted: every method becomes a
// no-op instead of an error, so limits go unenforced but the container
// still runs and reports status.
type cgroupManager struct {
	available bool
	root      string
}

// newCgroupManager probes for cgroups v2 at root (defaulting to
// /sys/fs/cgroup) by checking for cgroup.controllers.
func newCgroupManager(root string) *cgroupManager {
	if root == "" {
		root = cgroupRoot
	}
	_, err := os.ReadFile(filepath.Join(root, "cgroup.controllers"))
	return &cgroupManager{available: err == nil, root: root}
}

func (m *cgroupManager) path(containerID string) string {
	return filepath.Join(m.root, "gokube", containerID)
}

// create makes the per-container cgroup directory. No-op if unavailable.
func (m *cgroupManager) create(containerID string) error {
	if !m.available {
		return nil
	}
	return errors.Wrap(os.MkdirAll(m.path(containerID), 0o755), "cannot create cgroup")
}

// apply writes memory.max/memory.swap.max, cpu.weight, cpu.max, and
// pids.max for a container, translating docker-style CPU shares (1024
// default) into the cgroups v2 weight range (1-10000).
func (m *cgroupManager) apply(containerID string, limits ResourceLimits) error {
	if !m.available {
		return nil
	}
	dir := m.path(containerID)
	if limits.MemoryBytes > 0 {
		if err := m.write(dir, "memory.max", strconv.FormatInt(limits.MemoryBytes, 10)); err != nil {
			return err
		}
		if err := m.write(dir, "memory.swap.max", "0"); err != nil {
			return err
		}
	}
	if limits.CPUShares > 0 {
		weight := (limits.CPUShares * 100) / 1024
		if weight < 1 {
			weight = 1
		}
		if weight > 10000 {
			weight = 10000
		}
		if err := m.write(dir, "cpu.weight", strconv.FormatInt(weight, 10)); err != nil {
			return err
		}
	}
	if limits.CPUQuotaUs > 0 {
		const periodUs = 100000
		if err := m.write(dir, "cpu.max", strconv.FormatInt(limits.CPUQuotaUs, 10)+" "+strconv.Itoa(periodUs)); err != nil {
			return err
		}
	}
	if limits.PIDsLimit > 0 {
		if err := m.write(dir, "pids.max", strconv.FormatInt(limits.PIDsLimit, 10)); err != nil {
			return err
		}
	}
	return nil
}

// addProcess joins pid to the container's cgroup.
func (m *cgroupManager) addProcess(containerID string, pid int) error {
	if !m.available {
		return nil
	}
	return m.write(m.path(containerID), "cgroup.procs", strconv.Itoa(pid))
}

// remove tears down the per-container cgroup directory.
func (m *cgroupManager) remove(containerID string) {
	if !m.available {
		return
	}
	_ = os.Remove(m.path(containerID))
}

func (m *cgroupManager) write(dir, file, value string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create cgroup dir %s", dir)
	}
	err := os.WriteFile(filepath.Join(dir, file), []byte(value), 0o644)
	return errors.Wrapf(err, "cannot write cgroup file %s", file)
}
