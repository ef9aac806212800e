// Package endpoints reconciles Services with a selector into the
// Endpoints object tracking their ready backing Pods, following the same
// Reconciler shape as the deployment and replicaset controllers.
package endpoints

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/cpaika/gokube/internal/controller"
	"github.com/cpaika/gokube/internal/logging"
	"github.com/cpaika/gokube/internal/store"
)

type serviceSpec struct {
	Selector map[string]string `json:"selector"`
	Ports    []servicePort     `json:"ports"`
}

type servicePort struct {
	Port       int32  `json:"port"`
	TargetPort int32  `json:"targetPort"`
	Protocol   string `json:"protocol"`
}

// Reconciler owns Endpoints objects; tracks the intersection of Service
// selectors and ready Pods.
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

// NewReconciler builds the Endpoints Reconciler.
func NewReconciler(registry *store.Registry, opts ...Option) *Reconciler {
	r := &Reconciler{registry: registry, log: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Name() string { return "endpoints" }

func (r *Reconciler) Reconcile(ctx context.Context) error {
	services, err := r.registry.Services().List("")
	if err != nil {
		return errors.Wrap(err, "cannot list services")
	}
	for _, svc := range services.Items {
		var spec serviceSpec
		if err := json.Unmarshal(svc.Spec, &spec); err != nil {
			r.log.Info("failed to decode service spec", "namespace", svc.Metadata.Namespace, "name", svc.Metadata.Name, "error", err.Error())
			continue
		}
		// Services without a selector are left alone: users may manage
		// their Endpoints manually.
		if len(spec.Selector) == 0 {
			continue
		}
		if err := r.reconcileOne(svc, spec); err != nil {
			r.log.Info("failed to reconcile endpoints", "namespace", svc.Metadata.Namespace, "name", svc.Metadata.Name, "error", err.Error())
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(svc *store.Resource, spec serviceSpec) error {
	pods, err := r.registry.Pods().List(svc.Metadata.Namespace)
	if err != nil {
		return errors.Wrap(err, "cannot list pods")
	}

	var addrs []corev1.EndpointAddress
	for _, p := range pods.Items {
		if !controller.MatchesSelector(p.Metadata.Labels, spec.Selector) {
			continue
		}
		var status struct {
			Phase string `json:"phase"`
			PodIP string `json:"podIP"`
		}
		if err := json.Unmarshal(p.Status, &status); err != nil {
			continue
		}
		if status.Phase != "Running" || status.PodIP == "" {
			continue
		}
		addrs = append(addrs, corev1.EndpointAddress{
			IP: status.PodIP,
			TargetRef: &corev1.ObjectReference{
				Kind:      "Pod",
				Name:      p.Metadata.Name,
				Namespace: p.Metadata.Namespace,
				UID:       p.Metadata.UID,
			},
		})
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].IP < addrs[j].IP })

	ports := spec.Ports
	if len(ports) == 0 {
		ports = []servicePort{{Port: 80, TargetPort: 80, Protocol: "TCP"}}
	}
	portEntries := make([]corev1.EndpointPort, 0, len(ports))
	for _, p := range ports {
		target := p.TargetPort
		if target == 0 {
			target = p.Port
		}
		proto := p.Protocol
		if proto == "" {
			proto = "TCP"
		}
		portEntries = append(portEntries, corev1.EndpointPort{Port: target, Protocol: corev1.Protocol(proto)})
	}

	subsets := []corev1.EndpointSubset{}
	if len(addrs) > 0 {
		subsets = append(subsets, corev1.EndpointSubset{
			Addresses: addrs,
			Ports:     portEntries,
		})
	}
	subsetsJSON, err := json.Marshal(map[string]any{"subsets": subsets})
	if err != nil {
		return errors.Wrap(err, "cannot encode endpoints subsets")
	}

	return r.upsert(svc, subsetsJSON)
}

// upsert creates the Endpoints object named after the Service if it does
// not exist, or replaces its subsets if it does.
func (r *Reconciler) upsert(svc *store.Resource, subsetsSpec json.RawMessage) error {
	existing, err := r.registry.Endpoints().Get(svc.Metadata.Namespace, svc.Metadata.Name)
	if serr, ok := store.AsStoreError(err); ok && serr.Code == store.CodeNotFound {
		_, err := r.registry.Endpoints().Create(svc.Metadata.Namespace, &store.Resource{
			Metadata: metav1.ObjectMeta{Name: svc.Metadata.Name},
			Spec:     subsetsSpec,
		})
		if serr, ok := store.AsStoreError(err); ok && serr.Code == store.CodeAlreadyExists {
			return nil
		}
		return errors.Wrap(err, "cannot create endpoints")
	}
	if err != nil {
		return errors.Wrap(err, "cannot get endpoints")
	}
	if controller.SameJSON(existing.Spec, subsetsSpec) {
		return nil
	}
	_, err = r.registry.Endpoints().Update(svc.Metadata.Namespace, svc.Metadata.Name, &store.Resource{
		Metadata: existing.Metadata,
		Spec:     subsetsSpec,
	})
	return errors.Wrap(err, "cannot update endpoints")
}
