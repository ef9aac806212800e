package deployment

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/cpaika/gokube/internal/store"
)

func newTestRegistry(t *testing.T) *store.Registry {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg, err := store.NewRegistry(db)
	require.NoError(t, err)
	return reg
}

func TestReconcileCreatesCurrentReplicaSet(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg)

	spec, err := json.Marshal(map[string]any{
		"replicas": 3,
		"selector": map[string]string{"app": "web"},
		"template": map[string]any{
			"metadata": map[string]any{"labels": map[string]string{"app": "web"}},
			"spec":     map[string]any{"containers": []any{map[string]any{"name": "c", "image": "nginx"}}},
		},
	})
	require.NoError(t, err)

	created, err := reg.Deployments().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "web"},
		Spec:     spec,
	})
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(context.Background()))

	list, err := reg.ReplicaSets().List("default")
	require.NoError(t, err)
	require.Len(t, list.Items, 1)

	rs := list.Items[0]
	require.Contains(t, rs.Metadata.Name, "web-")
	require.True(t, ownedBy(rs, "Deployment", string(created.Metadata.UID)))
}

func TestReconcileIsIdempotentAcrossTicks(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg)

	spec, err := json.Marshal(map[string]any{
		"replicas": 1,
		"selector": map[string]string{"app": "web"},
		"template": map[string]any{
			"metadata": map[string]any{"labels": map[string]string{"app": "web"}},
			"spec":     map[string]any{"containers": []any{map[string]any{"name": "c", "image": "nginx"}}},
		},
	})
	require.NoError(t, err)

	_, err = reg.Deployments().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "web"},
		Spec:     spec,
	})
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(context.Background()))
	require.NoError(t, r.Reconcile(context.Background()))

	list, err := reg.ReplicaSets().List("default")
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
}

func TestReconcileNewTemplateCreatesNewReplicaSet(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg)

	makeSpec := func(image string) json.RawMessage {
		b, err := json.Marshal(map[string]any{
			"replicas": 1,
			"selector": map[string]string{"app": "web"},
			"template": map[string]any{
				"metadata": map[string]any{"labels": map[string]string{"app": "web"}},
				"spec":     map[string]any{"containers": []any{map[string]any{"name": "c", "image": image}}},
			},
		})
		require.NoError(t, err)
		return b
	}

	_, err := reg.Deployments().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "web"},
		Spec:     makeSpec("nginx:1.0"),
	})
	require.NoError(t, err)
	require.NoError(t, r.Reconcile(context.Background()))

	// The first tick wrote the Deployment's status, which bumped its
	// resourceVersion, so the update must carry the current one.
	current, err := reg.Deployments().Get("default", "web")
	require.NoError(t, err)
	_, err = reg.Deployments().Update("default", "web", &store.Resource{
		Metadata: metav1.ObjectMeta{ResourceVersion: current.Metadata.ResourceVersion},
		Spec:     makeSpec("nginx:2.0"),
	})
	require.NoError(t, err)
	require.NoError(t, r.Reconcile(context.Background()))

	list, err := reg.ReplicaSets().List("default")
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
}

func ownedBy(rs *store.Resource, kind, uid string) bool {
	for _, ref := range rs.Metadata.OwnerReferences {
		if ref.Kind == kind && string(ref.UID) == uid {
			return true
		}
	}
	return false
}
