package controller

import (
	"encoding/json"
	"reflect"
)

// SameJSON reports whether two JSON documents are structurally equal,
// ignoring key order and whitespace. Reconcilers use it to skip a status
// write when the observed state already matches what they would write, so
// a steady-state tick produces no store mutations.
func SameJSON(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
