// Package deployment reconciles Deployments by creating and maintaining
// the ReplicaSet whose pod-template-hash matches the Deployment's current
// template, following the functional-options-constructed Reconciler shape
// used across this codebase's controllers.
package deployment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/cpaika/gokube/internal/controller"
	"github.com/cpaika/gokube/internal/logging"
	"github.com/cpaika/gokube/internal/store"
)

func metaWithOwner(name string, d *store.Resource) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name: name,
		OwnerReferences: []metav1.OwnerReference{
			controller.ControllerOwnerReference("Deployment", d.Metadata.Name, string(d.Metadata.UID)),
		},
	}
}

const (
	errListDeployments  = "cannot list deployments"
	errListReplicaSets  = "cannot list replicasets"
	errComputeHash      = "cannot compute pod template hash"
	errCreateReplicaSet = "cannot create replicaset"
	errUpdateStatus     = "cannot update deployment status"
)

type deploymentSpec struct {
	Replicas int32             `json:"replicas"`
	Selector map[string]string `json:"selector"`
	Template json.RawMessage   `json:"template"`
}

// Reconciler owns Deployments; creates and maintains ReplicaSets.
type Reconciler struct {
	registry *store.Registry
	log      logging.Logger
}

// Option configures a Reconciler at construction.
type Option func(*Reconciler)

// WithLogger sets the Reconciler's logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// NewReconciler builds the Deployment Reconciler.
func NewReconciler(registry *store.Registry, opts ...Option) *Reconciler {
	r := &Reconciler{registry: registry, log: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Name() string { return "deployment" }

// Reconcile computes, for every live Deployment, the desired current
// ReplicaSet and creates it if missing, then aggregates status across all
// ReplicaSets it owns.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	deployments, err := r.registry.Deployments().List("")
	if err != nil {
		return errors.Wrap(err, errListDeployments)
	}

	for _, d := range deployments.Items {
		if err := r.reconcileOne(d); err != nil {
			r.log.Info("failed to reconcile deployment", "namespace", d.Metadata.Namespace, "name", d.Metadata.Name, "error", err.Error())
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(d *store.Resource) error {
	var spec deploymentSpec
	if err := json.Unmarshal(d.Spec, &spec); err != nil {
		return errors.Wrap(err, "cannot decode deployment spec")
	}

	hash, err := controller.PodTemplateHash(spec.Template)
	if err != nil {
		return errors.Wrap(err, errComputeHash)
	}
	currentName := fmt.Sprintf("%s-%s", d.Metadata.Name, hash)

	replicaSets, err := r.registry.ReplicaSets().List(d.Metadata.Namespace)
	if err != nil {
		return errors.Wrap(err, errListReplicaSets)
	}

	var current *store.Resource
	var owned []*store.Resource
	for _, rs := range replicaSets.Items {
		if !controller.IsOwnedBy(rs, "Deployment", string(d.Metadata.UID)) {
			continue
		}
		owned = append(owned, rs)
		if rs.Metadata.Name == currentName {
			current = rs
		}
	}

	if current == nil {
		rsSpec, err := json.Marshal(map[string]any{
			"replicas": spec.Replicas,
			"selector": spec.Selector,
			"template": spec.Template,
		})
		if err != nil {
			return errors.Wrap(err, "cannot encode replicaset spec")
		}
		created, err := r.registry.ReplicaSets().Create(d.Metadata.Namespace, &store.Resource{
			Metadata: metaWithOwner(currentName, d),
			Spec:     rsSpec,
		})
		if err != nil {
			if serr, ok := store.AsStoreError(err); ok && serr.Code == store.CodeAlreadyExists {
				// Lost a race with another tick; fine, it exists now.
				return nil
			}
			return errors.Wrap(err, errCreateReplicaSet)
		}
		owned = append(owned, created)
	}

	return r.updateStatus(d, owned)
}

func (r *Reconciler) updateStatus(d *store.Resource, owned []*store.Resource) error {
	var totalReplicas, totalAvailable int32
	for _, rs := range owned {
		var rsSpec struct {
			Replicas int32 `json:"replicas"`
		}
		_ = json.Unmarshal(rs.Spec, &rsSpec)
		totalReplicas += rsSpec.Replicas

		var rsStatus struct {
			AvailableReplicas int32 `json:"availableReplicas"`
		}
		_ = json.Unmarshal(rs.Status, &rsStatus)
		totalAvailable += rsStatus.AvailableReplicas
	}

	available := totalAvailable >= totalReplicas && totalReplicas > 0
	status := map[string]any{
		"replicas":          totalReplicas,
		"availableReplicas": totalAvailable,
		"conditions": []map[string]any{
			{"type": "Progressing", "status": "True", "reason": "NewReplicaSetAvailable"},
			{"type": "Available", "status": boolCondition(available), "reason": "MinimumReplicasAvailable"},
		},
	}
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "cannot encode deployment status")
	}
	if controller.SameJSON(d.Status, statusJSON) {
		return nil
	}
	_, err = r.registry.Deployments().UpdateStatus(d.Metadata.Namespace, d.Metadata.Name, statusJSON)
	return errors.Wrap(err, errUpdateStatus)
}

func boolCondition(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
