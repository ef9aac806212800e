// Package runtime defines the thin container-runtime abstraction the
// kubelet and the port-forward data path depend on: create, start, stop,
// remove, list, inspect, and exec-in-container, against a lightweight
// process-and-socket runtime rather than a full container engine client.
package runtime

import (
	"context"
	"io"
	"time"
)

// Protocol is a declared container port's transport.
type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// Port is one container port declaration passed at container creation.
type Port struct {
	Name          string
	ContainerPort int32
	Protocol      Protocol
}

// ResourceLimits is the docker/cgroups-v1-style shape the kubelet computes
// from a Pod's resource requests/limits, translated to cgroups v2 by the
// runtime implementation.
type ResourceLimits struct {
	// MemoryBytes, if > 0, becomes memory.max (and memory.swap.max=0).
	MemoryBytes int64
	// CPUShares is the docker-style 1024-share CPU weight; the runtime
	// scales it to cgroups v2's 1-10000 cpu.weight range.
	CPUShares int64
	// CPUQuotaUs, if > 0, is microseconds of CPU time per 100ms period,
	// written as cpu.max = "<quota> 100000".
	CPUQuotaUs int64
	// PIDsLimit, if > 0, becomes pids.max.
	PIDsLimit int64
}

// ContainerSpec describes a container to create: image, command, env,
// port declarations, resource limits, labels, and network mode.
type ContainerSpec struct {
	Name        string
	Image       string
	Command     []string
	Env         map[string]string
	Ports       []Port
	Limits      ResourceLimits
	Labels      map[string]string
	NetworkMode string
}

// State is a container's coarse lifecycle phase, mirroring the
// waiting/running/terminated vocabulary status.containerStatuses uses.
type State string

const (
	StateWaiting    State = "waiting"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
)

// Container is the runtime's view of one created container.
type Container struct {
	ID         string
	Spec       ContainerSpec
	State      State
	Reason     string
	IP         string
	HostIP     string
	ExitCode   int
	StartedAt  time.Time
	RestartCnt int
}

// HasLabels reports whether c carries every key/value in selector.
func (c *Container) HasLabels(selector map[string]string) bool {
	for k, v := range selector {
		if c.Spec.Labels[k] != v {
			return false
		}
	}
	return true
}

// Runtime is the container-runtime abstraction both the kubelet and the
// port-forward data path depend on. Implementations must degrade
// gracefully when the host offers no real isolation: a Create/Start that
// cannot apply resource limits still returns a usable Container so
// status can be reported.
type Runtime interface {
	Create(ctx context.Context, spec ContainerSpec) (*Container, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context, labels map[string]string) ([]*Container, error)
	Inspect(ctx context.Context, id string) (*Container, error)

	// Exec spawns a process inside an existing container, wiring
	// stdin/stdout/stderr to the supplied streams, and returns its exit
	// code. Probes use this with a 5s timeout.
	Exec(ctx context.Context, id string, cmd []string, stdin io.Reader, stdout, stderr io.Writer) (int, error)

	// Dial opens a stream to a port inside the container, for the
	// port-forward data path. When direct TCP is not feasible,
	// implementations fall back to the in-container bridge tool
	// preference list (socat, nc, netcat).
	Dial(ctx context.Context, id string, port int32) (io.ReadWriteCloser, error)

	// Logs returns the bounded in-container stdout/stderr ring buffer
	// captured for the container, backing the pod log sub-resource.
	Logs(id string) ([]byte, error)
}

// ErrNotFound is returned by Inspect/Stop/Remove/Exec/Dial/Logs for an
// unknown container id.
type ErrNotFound struct{ ID string }

func (e ErrNotFound) Error() string { return "container " + e.ID + " not found" }
