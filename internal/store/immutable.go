package store

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// isImmutable reports whether a ConfigMap/Secret-shaped spec has its
// immutable flag set. ConfigMap and Secret carry data/stringData/immutable
// as top-level fields in upstream Kubernetes; since this store treats spec
// as opaque, those fields are expected inside the stored spec sub-tree.
func isImmutable(spec json.RawMessage) bool {
	var envelope struct {
		Immutable bool `json:"immutable"`
	}
	if err := json.Unmarshal(spec, &envelope); err != nil {
		return false
	}
	return envelope.Immutable
}

// normalizeData extracts the "data" field for immutability comparison: an
// immutable ConfigMap/Secret forbids changes to data, not to every field.
// If there is no data field, the whole spec is compared.
func normalizeData(spec json.RawMessage) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(spec, &envelope); err != nil || envelope.Data == nil {
		return []byte(spec)
	}
	return []byte(envelope.Data)
}

// jsonEqual reports whether two JSON documents are structurally equal,
// ignoring key order and whitespace. Patch re-marshals the merged spec,
// so byte comparison alone would report a change on every re-encoding.
// Falls back to byte equality when either side is not valid JSON.
func jsonEqual(a, b []byte) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(av, bv)
}
