package controller

import (
	"hash/fnv"
	"encoding/json"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/cpaika/gokube/internal/store"
)

// boolPtr is a small helper since metav1.OwnerReference's Controller and
// BlockOwnerDeletion fields are *bool.
func boolPtr(b bool) *bool { return &b }

// ControllerOwnerReference builds the owner reference a controller stamps
// onto objects it creates: per the design note on ownership graphs, this is
// data, never an in-memory back-pointer.
func ControllerOwnerReference(kind, name string, uid string) metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion:         "",
		Kind:               kind,
		Name:               name,
		UID:                types.UID(uid),
		Controller:         boolPtr(true),
		BlockOwnerDeletion: boolPtr(true),
	}
}

// IsOwnedBy reports whether obj carries a controller owner reference
// pointing at (kind, uid).
func IsOwnedBy(obj *store.Resource, kind, uid string) bool {
	for _, ref := range obj.Metadata.OwnerReferences {
		if ref.Kind == kind && string(ref.UID) == uid && ref.Controller != nil && *ref.Controller {
			return true
		}
	}
	return false
}

// PodTemplateHash computes a short deterministic hash of a pod template
// document, used to name the "current" ReplicaSet after its Deployment's
// template: {Deployment.Name}-{Hash}.
func PodTemplateHash(template json.RawMessage) (string, error) {
	var normalized any
	if err := json.Unmarshal(template, &normalized); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	h := fnv.New32a()
	_, _ = h.Write(canonical)
	return fmt.Sprintf("%x", h.Sum32()), nil
}

// MatchesSelector reports whether labels is a superset of the required
// selector's matchLabels (every key in selector must be present in labels
// with an equal value).
func MatchesSelector(labels, selector map[string]string) bool {
	if len(selector) == 0 {
		return false
	}
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}
