// Package replicaset reconciles ReplicaSets by creating and deleting Pods
// to match spec.replicas, never talking to the container runtime directly.
package replicaset

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/cpaika/gokube/internal/controller"
	"github.com/cpaika/gokube/internal/logging"
	"github.com/cpaika/gokube/internal/store"
)

type replicaSetSpec struct {
	Replicas int32             `json:"replicas"`
	Selector map[string]string `json:"selector"`
	Template struct {
		Metadata struct {
			Labels map[string]string `json:"labels"`
		} `json:"metadata"`
		Spec json.RawMessage `json:"spec"`
	} `json:"template"`
}

// Reconciler owns ReplicaSets; creates and deletes Pods.
type Reconciler struct {
	registry *store.Registry
	log      logging.Logger
	rand     *rand.Rand
}

// Option configures a Reconciler at construction.
type Option func(*Reconciler)

// WithLogger sets the Reconciler's logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// NewReconciler builds the ReplicaSet Reconciler.
func NewReconciler(registry *store.Registry, opts ...Option) *Reconciler {
	r := &Reconciler{
		registry: registry,
		log:      logging.NewNopLogger(),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Name() string { return "replicaset" }

func (r *Reconciler) Reconcile(ctx context.Context) error {
	replicaSets, err := r.registry.ReplicaSets().List("")
	if err != nil {
		return errors.Wrap(err, "cannot list replicasets")
	}
	for _, rs := range replicaSets.Items {
		if err := r.reconcileOne(rs); err != nil {
			r.log.Info("failed to reconcile replicaset", "namespace", rs.Metadata.Namespace, "name", rs.Metadata.Name, "error", err.Error())
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(rs *store.Resource) error {
	var spec replicaSetSpec
	if err := json.Unmarshal(rs.Spec, &spec); err != nil {
		return errors.Wrap(err, "cannot decode replicaset spec")
	}

	pods, err := r.registry.Pods().List(rs.Metadata.Namespace)
	if err != nil {
		return errors.Wrap(err, "cannot list pods")
	}

	var owned []*store.Resource
	for _, p := range pods.Items {
		if !controller.IsOwnedBy(p, "ReplicaSet", string(rs.Metadata.UID)) {
			continue
		}
		if !controller.MatchesSelector(p.Metadata.Labels, spec.Selector) {
			continue
		}
		owned = append(owned, p)
	}

	observed := int32(len(owned))
	switch {
	case observed < spec.Replicas:
		if err := r.createPods(rs, spec, int(spec.Replicas-observed)); err != nil {
			return err
		}
	case observed > spec.Replicas:
		if err := r.deletePods(rs, owned, int(observed-spec.Replicas)); err != nil {
			return err
		}
	}

	return r.updateStatus(rs, owned)
}

func (r *Reconciler) createPods(rs *store.Resource, spec replicaSetSpec, n int) error {
	labels := map[string]string{}
	for k, v := range spec.Template.Metadata.Labels {
		labels[k] = v
	}
	for k, v := range spec.Selector {
		labels[k] = v
	}

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s-%s", rs.Metadata.Name, shortRandom(r.rand))
		_, err := r.registry.Pods().Create(rs.Metadata.Namespace, &store.Resource{
			Metadata: metav1.ObjectMeta{
				Name:   name,
				Labels: labels,
				OwnerReferences: []metav1.OwnerReference{
					controller.ControllerOwnerReference("ReplicaSet", rs.Metadata.Name, string(rs.Metadata.UID)),
				},
			},
			Spec: spec.Template.Spec,
		})
		if err != nil {
			if serr, ok := store.AsStoreError(err); ok && serr.Code == store.CodeAlreadyExists {
				continue
			}
			return errors.Wrap(err, "cannot create pod")
		}
	}
	return nil
}

// deletePods removes the oldest n Pods first, by creationTimestamp, per
// the ReplicaSet controller's scale-down contract.
func (r *Reconciler) deletePods(rs *store.Resource, owned []*store.Resource, n int) error {
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].Metadata.CreationTimestamp.Before(&owned[j].Metadata.CreationTimestamp)
	})
	for i := 0; i < n && i < len(owned); i++ {
		if _, err := r.registry.Pods().Delete(owned[i].Metadata.Namespace, owned[i].Metadata.Name); err != nil {
			if serr, ok := store.AsStoreError(err); ok && serr.Code == store.CodeNotFound {
				continue
			}
			return errors.Wrap(err, "cannot delete pod")
		}
	}
	return nil
}

func (r *Reconciler) updateStatus(rs *store.Resource, owned []*store.Resource) error {
	var ready, available int32
	for _, p := range owned {
		var status struct {
			Phase string `json:"phase"`
		}
		_ = json.Unmarshal(p.Status, &status)
		if status.Phase == "Running" {
			ready++
			available++
		}
	}
	status := map[string]any{
		"replicas":          int32(len(owned)),
		"readyReplicas":     ready,
		"availableReplicas": available,
		"conditions": []map[string]any{
			{"type": "ReplicaFailure", "status": "False"},
		},
	}
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "cannot encode replicaset status")
	}
	if controller.SameJSON(rs.Status, statusJSON) {
		return nil
	}
	_, err = r.registry.ReplicaSets().UpdateStatus(rs.Metadata.Namespace, rs.Metadata.Name, statusJSON)
	return errors.Wrap(err, "cannot update replicaset status")
}

const randChars = "abcdefghijklmnopqrstuvwxyz0123456789"

func shortRandom(rnd *rand.Rand) string {
	b := make([]byte, 5)
	for i := range b {
		b[i] = randChars[rnd.Intn(len(randChars))]
	}
	return string(b)
}
