package scheduler

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

func TestReconcileBindsUnscheduledPodToNode(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg, "node-1")

	_, err := reg.Pods().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "p1"},
		Spec:     json.RawMessage(`{"containers":[{"name":"c","image":"nginx"}]}`),
	})
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(context.Background()))

	bound, err := reg.Pods().Get("default", "p1")
	require.NoError(t, err)

	var spec struct {
		NodeName string `json:"nodeName"`
	}
	require.NoError(t, json.Unmarshal(bound.Spec, &spec))
	require.Equal(t, "node-1", spec.NodeName)

	var status struct {
		Phase      string `json:"phase"`
		Conditions []struct {
			Type   string `json:"type"`
			Status string `json:"status"`
		} `json:"conditions"`
	}
	require.NoError(t, json.Unmarshal(bound.Status, &status))
	require.Equal(t, "Pending", status.Phase)
	require.Len(t, status.Conditions, 1)
	require.Equal(t, "PodScheduled", status.Conditions[0].Type)
	require.Equal(t, "True", status.Conditions[0].Status)
}

func TestReconcileLeavesAlreadyScheduledPodsAlone(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg, "node-1")

	created, err := reg.Pods().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "p1"},
		Spec:     json.RawMessage(`{"nodeName":"other-node"}`),
	})
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(context.Background()))

	got, err := reg.Pods().Get("default", "p1")
	require.NoError(t, err)
	require.Equal(t, created.Metadata.ResourceVersion, got.Metadata.ResourceVersion)
}

func TestReconcileSkipsDeletedPods(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg, "node-1")

	created, err := reg.Pods().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "p1"},
		Spec:     json.RawMessage(`{"containers":[{"name":"c","image":"nginx"}]}`),
	})
	require.NoError(t, err)
	_, err = reg.Pods().Delete("default", "p1")
	require.NoError(t, err)

	// Reconcile must not error or attempt to bind a soft-deleted pod.
	require.NoError(t, r.Reconcile(context.Background()))
	_ = created
}

func TestReconcilePreservesExistingStatusFieldsOnBind(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg, "node-1")

	created, err := reg.Pods().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "p1"},
		Spec:     json.RawMessage(`{"containers":[{"name":"c","image":"nginx"}]}`),
	})
	require.NoError(t, err)
	_, err = reg.Pods().UpdateStatus("default", "p1", json.RawMessage(`{"hostIP":"10.1.1.1"}`))
	require.NoError(t, err)
	_ = created

	require.NoError(t, r.Reconcile(context.Background()))

	got, err := reg.Pods().Get("default", "p1")
	require.NoError(t, err)
	var status struct {
		HostIP string `json:"hostIP"`
		Phase  string `json:"phase"`
	}
	require.NoError(t, json.Unmarshal(got.Status, &status))
	require.Equal(t, "10.1.1.1", status.HostIP)
	require.Equal(t, "Pending", status.Phase)
}
