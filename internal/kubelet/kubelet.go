// Package kubelet turns Pods bound to this node into running containers
// and keeps status current. It is the only component that talks to the
// container runtime; the scheduler and the controllers only ever write
// through the Store.
package kubelet

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/cpaika/gokube/internal/controller"
	"github.com/cpaika/gokube/internal/logging"
	"github.com/cpaika/gokube/internal/runtime"
	"github.com/cpaika/gokube/internal/store"
)

const (
	labelPodUID  = "gokube.io/pod-uid"
	labelPodName = "gokube.io/pod-name"
	labelPodNS   = "gokube.io/pod-namespace"
	labelCtrName = "gokube.io/container-name"

	execTimeout = 5 * time.Second
)

type podSpec struct {
	NodeName   string              `json:"nodeName"`
	Containers []containerSpecJSON `json:"containers"`
}

type containerSpecJSON struct {
	Name           string        `json:"name"`
	Image          string        `json:"image"`
	Command        []string      `json:"command"`
	Args           []string      `json:"args"`
	Env            []envVar      `json:"env"`
	Ports          []portJSON    `json:"ports"`
	Resources      resourcesJSON `json:"resources"`
	LivenessProbe  *probeSpec    `json:"livenessProbe"`
	ReadinessProbe *probeSpec    `json:"readinessProbe"`
}

type envVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type portJSON struct {
	Name          string `json:"name"`
	ContainerPort int32  `json:"containerPort"`
	Protocol      string `json:"protocol"`
}

type resourcesJSON struct {
	Limits   map[string]string `json:"limits"`
	Requests map[string]string `json:"requests"`
}

type probeSpec struct {
	HTTPGet   *httpGetProbe   `json:"httpGet"`
	TCPSocket *tcpSocketProbe `json:"tcpSocket"`
	Exec      *execProbe      `json:"exec"`
}

type httpGetProbe struct {
	Path string `json:"path"`
	Port int32  `json:"port"`
}

type tcpSocketProbe struct {
	Port int32 `json:"port"`
}

type execProbe struct {
	Command []string `json:"command"`
}

// Reconciler is the kubelet's reconcile loop: one tick watches every Pod
// bound to nodeName and converges its containers and status.
type Reconciler struct {
	registry *store.Registry
	rt       runtime.Runtime
	nodeName string
	log      logging.Logger
}

// Option configures a Reconciler at construction.
type Option func(*Reconciler)

// WithLogger sets the Reconciler's logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// NewReconciler builds the kubelet Reconciler for the node named
// nodeName, backed by rt.
func NewReconciler(registry *store.Registry, rt runtime.Runtime, nodeName string, opts ...Option) *Reconciler {
	r := &Reconciler{registry: registry, rt: rt, nodeName: nodeName, log: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Name() string { return "kubelet" }

func (r *Reconciler) Reconcile(ctx context.Context) error {
	pods, err := r.registry.Pods().List("")
	if err != nil {
		return errors.Wrap(err, "cannot list pods")
	}

	bound := map[string]*store.Resource{}
	for _, p := range pods.Items {
		var spec podSpec
		if err := json.Unmarshal(p.Spec, &spec); err != nil {
			continue
		}
		if spec.NodeName != r.nodeName {
			continue
		}
		bound[string(p.Metadata.UID)] = p
		if err := r.reconcilePod(ctx, p, spec); err != nil {
			r.log.Info("failed to reconcile pod", "namespace", p.Metadata.Namespace, "name", p.Metadata.Name, "error", err.Error())
		}
	}

	r.gc(ctx, bound)
	return nil
}

// gc stops and removes any tracked container whose pod UID is no longer
// among the live Pods bound to this node: soft-deleted Pods vanish from
// List immediately, so disappearance from the bound set is this
// kubelet's only signal to release that Pod's containers.
func (r *Reconciler) gc(ctx context.Context, bound map[string]*store.Resource) {
	containers, err := r.rt.List(ctx, nil)
	if err != nil {
		r.log.Info("failed to list containers for gc", "error", err.Error())
		return
	}
	for _, c := range containers {
		uid := c.Spec.Labels[labelPodUID]
		if uid == "" {
			continue
		}
		if _, live := bound[uid]; live {
			continue
		}
		_ = r.rt.Stop(ctx, c.ID, 5*time.Second)
		_ = r.rt.Remove(ctx, c.ID)
	}
}

func (r *Reconciler) reconcilePod(ctx context.Context, pod *store.Resource, spec podSpec) error {
	statuses := make([]map[string]any, 0, len(spec.Containers))
	var podIP, hostIP string
	allRunning, anyWaiting, allTerminated, allSucceeded := true, false, true, true

	for _, cs := range spec.Containers {
		existing, err := r.findContainer(ctx, pod, cs.Name)
		if err != nil {
			return err
		}
		if existing == nil {
			existing, err = r.createAndStart(ctx, pod, cs)
			if err != nil {
				statuses = append(statuses, waitingStatus(cs, "ContainerCreating", err.Error()))
				allTerminated, allSucceeded = false, false
				anyWaiting = true
				allRunning = false
				continue
			}
		}

		r.runProbes(ctx, existing, cs)
		ready := existing.State == runtime.StateRunning && r.readinessOK(ctx, existing, cs)

		if existing.State != runtime.StateTerminated {
			allTerminated, allSucceeded = false, false
		} else if existing.ExitCode != 0 {
			allSucceeded = false
		}
		if existing.State == runtime.StateWaiting {
			anyWaiting = true
			allRunning = false
		}
		if existing.State != runtime.StateRunning {
			allRunning = false
		}
		if existing.IP != "" {
			podIP, hostIP = existing.IP, existing.HostIP
		}

		statuses = append(statuses, containerStatus(cs, existing, ready))
	}

	phase := "Unknown"
	switch {
	case anyWaiting:
		phase = "Pending"
	case allTerminated && allSucceeded:
		phase = "Succeeded"
	case allTerminated:
		phase = "Failed"
	case allRunning:
		phase = "Running"
	}

	return r.writeStatus(pod, phase, podIP, hostIP, statuses)
}

// ContainerLookup resolves a Pod to the runtime container id its
// port-forward stream should dial, satisfying portforward.ContainerLookup. It
// returns the Pod's first tracked container, since the core's single
// mapped port per Pod doesn't need to disambiguate further.
func ContainerLookup(registry *store.Registry, rt runtime.Runtime) func(namespace, name string) (string, string, error) {
	return func(namespace, name string) (string, string, error) {
		pod, err := registry.Pods().Get(namespace, name)
		if err != nil {
			return "", "", err
		}
		var status struct {
			Phase string `json:"phase"`
		}
		_ = json.Unmarshal(pod.Status, &status)

		matches, err := rt.List(context.Background(), map[string]string{labelPodUID: string(pod.Metadata.UID)})
		if err != nil {
			return "", "", errors.Wrap(err, "cannot list containers for pod")
		}
		if len(matches) == 0 {
			return "", status.Phase, errors.Errorf("pod %q has no running containers", name)
		}
		return matches[0].ID, status.Phase, nil
	}
}

func (r *Reconciler) findContainer(ctx context.Context, pod *store.Resource, name string) (*runtime.Container, error) {
	matches, err := r.rt.List(ctx, map[string]string{
		labelPodUID:  string(pod.Metadata.UID),
		labelCtrName: name,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot list containers")
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

func (r *Reconciler) createAndStart(ctx context.Context, pod *store.Resource, cs containerSpecJSON) (*runtime.Container, error) {
	spec := runtime.ContainerSpec{
		Name:    cs.Name,
		Image:   cs.Image,
		Command: append(append([]string{}, cs.Command...), cs.Args...),
		Env:     envMap(cs.Env),
		Ports:   ports(cs.Ports),
		Limits:  limits(cs.Resources),
		Labels: map[string]string{
			labelPodUID:  string(pod.Metadata.UID),
			labelPodName: pod.Metadata.Name,
			labelPodNS:   pod.Metadata.Namespace,
			labelCtrName: cs.Name,
		},
	}
	created, err := r.rt.Create(ctx, spec)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create container %s", cs.Name)
	}
	if err := r.rt.Start(ctx, created.ID); err != nil {
		return nil, errors.Wrapf(err, "cannot start container %s", cs.Name)
	}
	return r.rt.Inspect(ctx, created.ID)
}

// runProbes executes any declared liveness/readiness probe. A failed
// liveness probe restarts the container with exponential backoff; a
// failed readiness probe only clears its Ready state (handled by the
// caller via containerStatus's ready flag).
func (r *Reconciler) runProbes(ctx context.Context, c *runtime.Container, cs containerSpecJSON) {
	if c.State != runtime.StateRunning {
		return
	}
	if cs.LivenessProbe != nil && !r.probe(ctx, c, cs.LivenessProbe) {
		backoff := backoffFor(c.RestartCnt)
		if time.Since(c.StartedAt) < backoff {
			return
		}
		r.log.Info("liveness probe failed, restarting container", "container", c.ID, "restarts", c.RestartCnt)
		_ = r.rt.Stop(ctx, c.ID, 5*time.Second)
		if err := r.rt.Start(ctx, c.ID); err == nil {
			c.RestartCnt++
			c.StartedAt = time.Now()
		}
	}
}

// readinessOK reports whether cs's readiness probe passes, defaulting to
// true when no probe is declared.
func (r *Reconciler) readinessOK(ctx context.Context, c *runtime.Container, cs containerSpecJSON) bool {
	if cs.ReadinessProbe == nil {
		return true
	}
	return r.probe(ctx, c, cs.ReadinessProbe)
}

func backoffFor(restarts int) time.Duration {
	d := 10 * time.Second
	for i := 0; i < restarts; i++ {
		d *= 2
		if d > 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}

func (r *Reconciler) probe(ctx context.Context, c *runtime.Container, p *probeSpec) bool {
	probeCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	switch {
	case p.Exec != nil:
		code, err := r.rt.Exec(probeCtx, c.ID, p.Exec.Command, nil, io.Discard, io.Discard)
		return err == nil && code == 0
	case p.TCPSocket != nil:
		conn, err := r.rt.Dial(probeCtx, c.ID, p.TCPSocket.Port)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	case p.HTTPGet != nil:
		conn, err := r.rt.Dial(probeCtx, c.ID, p.HTTPGet.Port)
		if err != nil {
			return false
		}
		defer conn.Close()
		path := p.HTTPGet.Path
		if path == "" {
			path = "/"
		}
		_, err = conn.Write([]byte("GET " + path + " HTTP/1.0\r\n\r\n"))
		if err != nil {
			return false
		}
		buf := make([]byte, 64)
		if rc, ok := conn.(net.Conn); ok {
			_ = rc.SetReadDeadline(time.Now().Add(execTimeout))
		}
		_, err = conn.Read(buf)
		return err == nil
	}
	return true
}

func (r *Reconciler) writeStatus(pod *store.Resource, phase, podIP, hostIP string, containerStatuses []map[string]any) error {
	var status map[string]any
	_ = json.Unmarshal(pod.Status, &status)
	if status == nil {
		status = map[string]any{}
	}

	var conditions []controller.Condition
	if raw, ok := status["conditions"]; ok {
		b, _ := json.Marshal(raw)
		_ = json.Unmarshal(b, &conditions)
	}

	ready := phase == "Running"
	conditions = controller.SetCondition(conditions, controller.ConditionTrue("Initialized", "ContainersInitialized"))
	if ready {
		conditions = controller.SetCondition(conditions, controller.ConditionTrue("ContainersReady", "ContainersReady"))
		conditions = controller.SetCondition(conditions, controller.ConditionTrue("Ready", "ContainersReady"))
	} else {
		conditions = controller.SetCondition(conditions, controller.ConditionFalse("ContainersReady", "ContainersNotReady", "not every container is ready"))
		conditions = controller.SetCondition(conditions, controller.ConditionFalse("Ready", "ContainersNotReady", "not every container is ready"))
	}

	status["phase"] = phase
	status["conditions"] = conditions
	status["containerStatuses"] = containerStatuses
	if podIP != "" {
		status["podIP"] = podIP
	}
	if hostIP != "" {
		status["hostIP"] = hostIP
	}

	statusJSON, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "cannot encode pod status")
	}
	if controller.SameJSON(pod.Status, statusJSON) {
		return nil
	}
	_, err = r.registry.Pods().UpdateStatus(pod.Metadata.Namespace, pod.Metadata.Name, statusJSON)
	return errors.Wrap(err, "cannot update pod status")
}

func waitingStatus(cs containerSpecJSON, reason, message string) map[string]any {
	return map[string]any{
		"name":  cs.Name,
		"ready": false,
		"image": cs.Image,
		"state": map[string]any{
			"waiting": map[string]any{"reason": reason, "message": message},
		},
	}
}

func containerStatus(cs containerSpecJSON, c *runtime.Container, ready bool) map[string]any {
	state := map[string]any{}
	switch c.State {
	case runtime.StateRunning:
		state["running"] = map[string]any{"startedAt": c.StartedAt.UTC().Format(time.RFC3339)}
	case runtime.StateTerminated:
		state["terminated"] = map[string]any{"exitCode": c.ExitCode, "reason": c.Reason}
	default:
		state["waiting"] = map[string]any{"reason": "ContainerCreating"}
	}
	return map[string]any{
		"name":         cs.Name,
		"ready":        ready,
		"restartCount": c.RestartCnt,
		"image":        cs.Image,
		"imageID":      cs.Image,
		"containerID":  c.ID,
		"state":        state,
	}
}

func envMap(vars []envVar) map[string]string {
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		out[v.Name] = v.Value
	}
	return out
}

func ports(in []portJSON) []runtime.Port {
	out := make([]runtime.Port, 0, len(in))
	for _, p := range in {
		proto := runtime.ProtocolTCP
		if p.Protocol == "UDP" {
			proto = runtime.ProtocolUDP
		}
		out = append(out, runtime.Port{Name: p.Name, ContainerPort: p.ContainerPort, Protocol: proto})
	}
	return out
}

// limits translates a Pod container's resources.limits (Kubernetes
// Quantity strings, e.g. "500m" CPU or "128Mi" memory) into the
// runtime.ResourceLimits the cgroups v2 manager applies.
func limits(res resourcesJSON) runtime.ResourceLimits {
	var out runtime.ResourceLimits
	if mem, ok := res.Limits["memory"]; ok {
		if q, err := resource.ParseQuantity(mem); err == nil {
			out.MemoryBytes = q.Value()
		}
	}
	if cpu, ok := res.Limits["cpu"]; ok {
		if q, err := resource.ParseQuantity(cpu); err == nil {
			milli := q.MilliValue()
			out.CPUShares = milli * 1024 / 1000
			out.CPUQuotaUs = milli * 100
		}
	}
	if pids, ok := res.Limits["pids"]; ok {
		if q, err := resource.ParseQuantity(pids); err == nil {
			out.PIDsLimit = q.Value()
		}
	}
	return out
}
