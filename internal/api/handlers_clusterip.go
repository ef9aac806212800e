package api

import (
	"encoding/json"

	"github.com/cpaika/gokube/internal/store"
)

type serviceSpec struct {
	Type      string `json:"type,omitempty"`
	ClusterIP string `json:"clusterIP,omitempty"`
}

// allocateClusterIPIfNeeded assigns a free address from the ClusterIP range
// on create, when the Service is type=ClusterIP and has not pre-assigned
// one, then persists the assignment back through the Store.
func allocateClusterIPIfNeeded(reg *store.Registry, svc *store.Resource) error {
	var spec serviceSpec
	if err := json.Unmarshal(svc.Spec, &spec); err != nil {
		return store.ErrInvalid("malformed service spec: %v", err)
	}
	if spec.Type != "" && spec.Type != "ClusterIP" {
		return nil
	}
	if spec.ClusterIP != "" {
		return nil
	}

	ip, err := reg.ClusterIPs.Allocate()
	if err != nil {
		return store.NewError(store.CodeInternal, "cannot allocate cluster IP: %v", err)
	}
	spec.ClusterIP = ip
	if spec.Type == "" {
		spec.Type = "ClusterIP"
	}

	merged, err := mergeRawSpec(svc.Spec, spec)
	if err != nil {
		reg.ClusterIPs.Release(ip)
		return err
	}

	updated, err := reg.Services().Update(svc.Metadata.Namespace, svc.Metadata.Name, &store.Resource{
		Metadata: svc.Metadata,
		Spec:     merged,
	})
	if err != nil {
		reg.ClusterIPs.Release(ip)
		return err
	}
	*svc = *updated
	return nil
}

func releaseClusterIP(reg *store.Registry, svc *store.Resource) {
	var spec serviceSpec
	if err := json.Unmarshal(svc.Spec, &spec); err != nil {
		return
	}
	if spec.ClusterIP != "" {
		reg.ClusterIPs.Release(spec.ClusterIP)
	}
}

// mergeRawSpec overlays a typed struct's non-zero fields onto an existing
// raw spec document, preserving any other fields already present.
func mergeRawSpec(existing json.RawMessage, overlay any) (json.RawMessage, error) {
	var base map[string]any
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &base); err != nil {
			return nil, store.ErrInvalid("malformed spec: %v", err)
		}
	}
	if base == nil {
		base = map[string]any{}
	}
	overlayBytes, err := json.Marshal(overlay)
	if err != nil {
		return nil, err
	}
	var overlayMap map[string]any
	if err := json.Unmarshal(overlayBytes, &overlayMap); err != nil {
		return nil, err
	}
	for k, v := range overlayMap {
		base[k] = v
	}
	return json.Marshal(base)
}
