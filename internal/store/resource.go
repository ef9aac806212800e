package store

import (
	"encoding/json"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Resource is the envelope every stored object shares, per the resource
// envelope contract: a stable uid, name/namespace, kind/apiVersion, labels,
// annotations, owner references, resourceVersion, generation, creation and
// deletion timestamps. metadata.ObjectMeta from k8s.io/apimachinery already
// carries every one of those fields, so it is reused verbatim rather than
// reinvented: this is what keeps the wire shape compatible with kubectl.
type Resource struct {
	metav1.TypeMeta `json:",inline"`
	Metadata        metav1.ObjectMeta `json:"metadata"`

	// Spec and Status are opaque structured documents from the store's
	// point of view. They are never interpreted as strings; only the
	// front-end and controllers give them kind-specific meaning.
	Spec   json.RawMessage `json:"spec,omitempty"`
	Status json.RawMessage `json:"status,omitempty"`
}

// DeepCopy returns an independent copy of r, including its JSON sub-trees.
func (r *Resource) DeepCopy() *Resource {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = *r.Metadata.DeepCopy()
	if r.Spec != nil {
		out.Spec = append(json.RawMessage(nil), r.Spec...)
	}
	if r.Status != nil {
		out.Status = append(json.RawMessage(nil), r.Status...)
	}
	return &out
}

// Live reports whether the resource has not been soft-deleted.
func (r *Resource) Live() bool {
	return r.Metadata.DeletionTimestamp == nil
}

// List is the envelope for a collection response: {kind: "<K>List", items: [...]}.
type List struct {
	metav1.TypeMeta `json:",inline"`
	Items           []*Resource `json:"items"`
}

func newTimestamp() metav1.Time {
	return metav1.NewTime(time.Now().UTC())
}
