package api

import (
	"encoding/base64"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/cpaika/gokube/internal/store"
)

// secretSpec mirrors the fields a Secret's opaque spec carries: data is
// base64-blob values, stringData is the plaintext shorthand folded into
// data at create/update time and then discarded.
type secretSpec struct {
	Data       map[string]string `json:"data,omitempty"`
	StringData map[string]string `json:"stringData,omitempty"`
	Type       string            `json:"type,omitempty"`
	Immutable  bool              `json:"immutable,omitempty"`
}

// normalizeForKind applies kind-specific create/update-time normalization
// and validation that does not belong in the Store: Secret stringData
// folding and typed-secret key requirements, Pod non-empty container list,
// HorizontalPodAutoscaler replica bounds.
func normalizeForKind(v *validator.Validate, kind store.KindInfo, obj *store.Resource) error {
	switch kind.Kind {
	case "Secret":
		return normalizeSecret(obj)
	case "Pod":
		return validatePodSpec(v, obj)
	case "HorizontalPodAutoscaler":
		return validateHPASpec(v, obj)
	default:
		return nil
	}
}

func normalizeSecret(obj *store.Resource) error {
	var spec secretSpec
	if len(obj.Spec) > 0 {
		if err := json.Unmarshal(obj.Spec, &spec); err != nil {
			return store.ErrInvalid("malformed secret spec: %v", err)
		}
	}

	if spec.Data == nil {
		spec.Data = map[string]string{}
	}
	for k, v := range spec.StringData {
		spec.Data[k] = base64.StdEncoding.EncodeToString([]byte(v))
	}
	spec.StringData = nil

	for k, v := range spec.Data {
		if _, err := base64.StdEncoding.DecodeString(v); err != nil {
			return store.ErrInvalid("secret data key %q is not valid base64", k)
		}
	}

	switch spec.Type {
	case "kubernetes.io/tls":
		if _, ok := spec.Data["tls.crt"]; !ok {
			return store.ErrInvalid("tls secret requires data.tls.crt")
		}
		if _, ok := spec.Data["tls.key"]; !ok {
			return store.ErrInvalid("tls secret requires data.tls.key")
		}
	case "kubernetes.io/dockerconfigjson":
		if _, ok := spec.Data[".dockerconfigjson"]; !ok {
			return store.ErrInvalid("dockerconfigjson secret requires data[\".dockerconfigjson\"]")
		}
	}

	merged, err := json.Marshal(spec)
	if err != nil {
		return store.ErrInvalid("cannot re-encode secret spec: %v", err)
	}
	obj.Spec = merged
	return nil
}

type podSpec struct {
	Containers []podContainer `json:"containers" validate:"required,min=1,dive"`
}

type podContainer struct {
	Name  string `json:"name" validate:"required"`
	Image string `json:"image" validate:"required"`
}

func validatePodSpec(v *validator.Validate, obj *store.Resource) error {
	if len(obj.Spec) == 0 {
		return store.ErrInvalid("pod spec.containers must be a non-empty list")
	}
	var spec podSpec
	if err := json.Unmarshal(obj.Spec, &spec); err != nil {
		return store.ErrInvalid("malformed pod spec: %v", err)
	}
	if err := v.Struct(spec); err != nil {
		return store.ErrInvalid("invalid pod spec: %v", err)
	}
	// Pods created from a create call start Pending; the scheduler and
	// kubelet take the phase from here.
	if len(obj.Status) == 0 || string(obj.Status) == "{}" {
		obj.Status = json.RawMessage(`{"phase":"Pending"}`)
	}
	return nil
}

type hpaSpec struct {
	MinReplicas *int32 `json:"minReplicas" validate:"omitempty,gte=1"`
	MaxReplicas int32  `json:"maxReplicas" validate:"required,gte=1"`

	TargetCPUUtilizationPercentage *int32 `json:"targetCPUUtilizationPercentage" validate:"omitempty,gte=1,lte=100"`
}

func validateHPASpec(v *validator.Validate, obj *store.Resource) error {
	var spec hpaSpec
	if err := json.Unmarshal(obj.Spec, &spec); err != nil {
		return store.ErrInvalid("malformed horizontalpodautoscaler spec: %v", err)
	}
	if err := v.Struct(spec); err != nil {
		return store.ErrInvalid("invalid horizontalpodautoscaler spec: %v", err)
	}
	if spec.MinReplicas != nil && *spec.MinReplicas > spec.MaxReplicas {
		return store.ErrInvalid("spec.minReplicas %d must not exceed spec.maxReplicas %d", *spec.MinReplicas, spec.MaxReplicas)
	}
	return nil
}
