// Package scheduler assigns spec.nodeName to unscheduled Pods. A single
// in-process node is assumed: a more elaborate scheduler could evaluate
// nodeSelector, taints, and resource requests, but binding every pending
// Pod to the fixed node name is sufficient here.
package scheduler

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/cpaika/gokube/internal/controller"
	"github.com/cpaika/gokube/internal/logging"
	"github.com/cpaika/gokube/internal/store"
)

// Reconciler binds unscheduled Pods to the configured node.
type Reconciler struct {
	registry *store.Registry
	nodeName string
	log      logging.Logger
}

// Option configures a Reconciler at construction.
type Option func(*Reconciler)

// WithLogger sets the Reconciler's logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// NewReconciler builds the scheduler Reconciler over the single node
// named nodeName.
func NewReconciler(registry *store.Registry, nodeName string, opts ...Option) *Reconciler {
	r := &Reconciler{registry: registry, nodeName: nodeName, log: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Name() string { return "scheduler" }

func (r *Reconciler) Reconcile(ctx context.Context) error {
	pods, err := r.registry.Pods().List("")
	if err != nil {
		return errors.Wrap(err, "cannot list pods")
	}
	for _, p := range pods.Items {
		if !p.Live() {
			continue
		}
		var spec struct {
			NodeName string `json:"nodeName"`
		}
		if err := json.Unmarshal(p.Spec, &spec); err != nil {
			continue
		}
		if spec.NodeName != "" {
			continue
		}
		if err := r.bind(p); err != nil {
			r.log.Info("failed to schedule pod", "namespace", p.Metadata.Namespace, "name", p.Metadata.Name, "error", err.Error())
		}
	}
	return nil
}

// bind writes spec.nodeName and a PodScheduled=True condition, in that
// order: the binding is the authoritative write, the condition merely
// reports it.
func (r *Reconciler) bind(p *store.Resource) error {
	patch, err := json.Marshal(map[string]any{"nodeName": r.nodeName})
	if err != nil {
		return err
	}
	mergedSpec, err := store.MergePatch(p.Spec, patch)
	if err != nil {
		return errors.Wrap(err, "cannot merge nodeName into pod spec")
	}
	bound, err := r.registry.Pods().Update(p.Metadata.Namespace, p.Metadata.Name, &store.Resource{
		Metadata: p.Metadata,
		Spec:     mergedSpec,
	})
	if err != nil {
		return errors.Wrap(err, "cannot bind pod to node")
	}

	var status map[string]any
	_ = json.Unmarshal(bound.Status, &status)
	if status == nil {
		status = map[string]any{}
	}
	var conditions []controller.Condition
	if raw, ok := status["conditions"]; ok {
		b, _ := json.Marshal(raw)
		_ = json.Unmarshal(b, &conditions)
	}
	status["conditions"] = controller.SetCondition(conditions, controller.ConditionTrue("PodScheduled", "Scheduled"))
	if _, ok := status["phase"]; !ok {
		status["phase"] = "Pending"
	}
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return err
	}
	_, err = r.registry.Pods().UpdateStatus(p.Metadata.Namespace, p.Metadata.Name, statusJSON)
	return errors.Wrap(err, "cannot update pod status after scheduling")
}
