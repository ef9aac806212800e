package runtime

import (
	"context"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cpaika/gokube/internal/logging"
)

// ProcessRuntime is the process-based container-runtime implementation:
// it runs plain processes via os/exec and writes the cgroups v2
// filesystem directly rather than linking a Docker Engine API client,
// keeping the runtime mockable and usable when no container engine is
// present on the host.
type ProcessRuntime struct {
	mu         sync.Mutex
	containers map[string]*tracked
	cgroups    *cgroupManager
	log        logging.Logger
}

type tracked struct {
	c        *Container
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	logs     *logBuffer
	exitWait chan struct{}
}

// Option configures a ProcessRuntime at construction.
type Option func(*ProcessRuntime)

// WithLogger sets the runtime's logger.
func WithLogger(l logging.Logger) Option {
	return func(r *ProcessRuntime) { r.log = l }
}

// WithCgroupRoot overrides the cgroups v2 mount point, for tests.
func WithCgroupRoot(root string) Option {
	return func(r *ProcessRuntime) { r.cgroups = newCgroupManager(root) }
}

// NewProcessRuntime builds a ProcessRuntime, probing for cgroups v2 at the
// conventional mount point.
func NewProcessRuntime(opts ...Option) *ProcessRuntime {
	r := &ProcessRuntime{
		containers: make(map[string]*tracked),
		cgroups:    newCgroupManager(""),
		log:        logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ProcessRuntime) Create(ctx context.Context, spec ContainerSpec) (*Container, error) {
	id := uuid.NewString()
	c := &Container{ID: id, Spec: spec, State: StateWaiting}
	t := &tracked{c: c, logs: newLogBuffer()}

	r.mu.Lock()
	r.containers[id] = t
	r.mu.Unlock()

	if err := r.cgroups.create(id); err != nil {
		r.log.Info("cannot create cgroup, continuing without enforcement", "container", id, "error", err.Error())
	}
	return c, nil
}

// Start launches the container's process. When spec.Command is empty
// (true for most Pods in this system, which declare an image rather than
// a literal host binary), Start runs an internal placeholder (a goroutine
// that waits until the container is stopped; no OS process is spawned)
// instead of pulling and executing an image, since there is no container
// engine underneath. Status is still fully reportable either way.
func (r *ProcessRuntime) Start(ctx context.Context, id string) error {
	r.mu.Lock()
	t, ok := r.containers[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound{ID: id}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.exitWait = make(chan struct{})

	pid := os.Getpid()
	if len(t.c.Spec.Command) > 0 {
		cmd := exec.CommandContext(runCtx, t.c.Spec.Command[0], t.c.Spec.Command[1:]...)
		cmd.Env = append(os.Environ(), envSlice(t.c.Spec.Env)...)
		cmd.Stdout = t.logs
		cmd.Stderr = t.logs
		if err := cmd.Start(); err != nil {
			t.c.State = StateTerminated
			t.c.Reason = "ContainerCreating"
			cancel()
			return errors.Wrapf(err, "cannot start container %s", id)
		}
		t.cmd = cmd
		pid = cmd.Process.Pid
		go func() {
			_ = cmd.Wait()
			r.mu.Lock()
			t.c.State = StateTerminated
			if cmd.ProcessState != nil {
				t.c.ExitCode = cmd.ProcessState.ExitCode()
			}
			r.mu.Unlock()
			close(t.exitWait)
		}()
	} else {
		go func() {
			<-runCtx.Done()
			close(t.exitWait)
		}()
	}

	if err := r.cgroups.apply(id, t.c.Spec.Limits); err != nil {
		r.log.Info("cannot apply resource limits, continuing unenforced", "container", id, "error", err.Error())
	}
	if err := r.cgroups.addProcess(id, pid); err != nil {
		r.log.Info("cannot join cgroup", "container", id, "error", err.Error())
	}

	t.c.State = StateRunning
	t.c.IP = "127.0.0.1"
	t.c.HostIP = "127.0.0.1"
	t.c.StartedAt = time.Now()
	return nil
}

func (r *ProcessRuntime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	r.mu.Lock()
	t, ok := r.containers[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound{ID: id}
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Signal(os.Interrupt)
	}
	if t.cancel != nil {
		select {
		case <-t.exitWait:
		case <-time.After(timeout):
			t.cancel()
			<-t.exitWait
		}
	}
	t.c.State = StateTerminated
	return nil
}

func (r *ProcessRuntime) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.containers[id]
	if ok {
		delete(r.containers, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound{ID: id}
	}
	r.cgroups.remove(id)
	return nil
}

func (r *ProcessRuntime) List(ctx context.Context, labels map[string]string) ([]*Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Container
	for _, t := range r.containers {
		if t.c.HasLabels(labels) {
			out = append(out, t.c)
		}
	}
	return out, nil
}

func (r *ProcessRuntime) Inspect(ctx context.Context, id string) (*Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.containers[id]
	if !ok {
		return nil, ErrNotFound{ID: id}
	}
	return t.c, nil
}

func (r *ProcessRuntime) Exec(ctx context.Context, id string, cmdline []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	if _, err := r.Inspect(ctx, id); err != nil {
		return -1, err
	}
	if len(cmdline) == 0 {
		return -1, errors.New("exec requires a non-empty command")
	}
	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.Wrap(err, "cannot exec in container")
}

// Dial opens a stream to a port the container's process is expected to
// serve on the loopback address (single-node, no network namespace
// isolation). If a direct connection is not feasible it falls through the
// in-container bridge tool preference list.
func (r *ProcessRuntime) Dial(ctx context.Context, id string, port int32) (io.ReadWriteCloser, error) {
	c, err := r.Inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(c.IP, portString(port))
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err == nil {
		return conn, nil
	}
	return dialViaBridgeTool(ctx, c.IP, port)
}

func (r *ProcessRuntime) Logs(id string) ([]byte, error) {
	r.mu.Lock()
	t, ok := r.containers[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound{ID: id}
	}
	return t.logs.Bytes(), nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
