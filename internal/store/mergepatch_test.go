package store

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMergePatchReplacesScalarField(t *testing.T) {
	target := json.RawMessage(`{"replicas":3,"image":"nginx:1.0"}`)
	patch := json.RawMessage(`{"replicas":5}`)

	merged, err := MergePatch(target, patch)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	require.Equal(t, float64(5), got["replicas"])
	require.Equal(t, "nginx:1.0", got["image"])
}

func TestMergePatchNullDeletesKey(t *testing.T) {
	target := json.RawMessage(`{"replicas":3,"image":"nginx:1.0"}`)
	patch := json.RawMessage(`{"image":null}`)

	merged, err := MergePatch(target, patch)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	_, exists := got["image"]
	require.False(t, exists)
	require.Equal(t, float64(3), got["replicas"])
}

func TestMergePatchRecursesIntoNestedObjects(t *testing.T) {
	target := json.RawMessage(`{"metadata":{"labels":{"app":"web","tier":"frontend"}}}`)
	patch := json.RawMessage(`{"metadata":{"labels":{"tier":"backend"}}}`)

	merged, err := MergePatch(target, patch)
	require.NoError(t, err)

	var got, want map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	require.NoError(t, json.Unmarshal([]byte(`{"metadata":{"labels":{"app":"web","tier":"backend"}}}`), &want))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged document mismatch (-want +got):\n%s", diff)
	}
}

func TestMergePatchReplacesArraysWholesale(t *testing.T) {
	target := json.RawMessage(`{"ports":[80,443,8080]}`)
	patch := json.RawMessage(`{"ports":[9000]}`)

	merged, err := MergePatch(target, patch)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	ports := got["ports"].([]any)
	require.Len(t, ports, 1)
	require.Equal(t, float64(9000), ports[0])
}

func TestMergePatchAddsNewKeyFromEmptyTarget(t *testing.T) {
	merged, err := MergePatch(nil, json.RawMessage(`{"replicas":1}`))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	require.Equal(t, float64(1), got["replicas"])
}

func TestMergePatchEmptyPatchLeavesTargetUnchanged(t *testing.T) {
	target := json.RawMessage(`{"replicas":3}`)
	merged, err := MergePatch(target, json.RawMessage(`{}`))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	require.Equal(t, float64(3), got["replicas"])
}
