package endpoints

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

func TestReconcileIncludesOnlyRunningPodsWithPodIP(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg)

	svcSpec, err := json.Marshal(map[string]any{
		"selector": map[string]string{"app": "web"},
		"ports":    []any{map[string]any{"port": 80, "targetPort": 8080, "protocol": "TCP"}},
	})
	require.NoError(t, err)
	_, err = reg.Services().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "web"},
		Spec:     svcSpec,
	})
	require.NoError(t, err)

	mkPod := func(name, phase, ip string) {
		p, err := reg.Pods().Create("default", &store.Resource{
			Metadata: metav1.ObjectMeta{Name: name, Labels: map[string]string{"app": "web"}},
		})
		require.NoError(t, err)
		status, err := json.Marshal(map[string]any{"phase": phase, "podIP": ip})
		require.NoError(t, err)
		_, err = reg.Pods().UpdateStatus("default", p.Metadata.Name, status)
		require.NoError(t, err)
	}
	mkPod("ready", "Running", "10.0.0.1")
	mkPod("pending", "Pending", "")
	mkPod("noip", "Running", "")

	require.NoError(t, r.Reconcile(context.Background()))

	ep, err := reg.Endpoints().Get("default", "web")
	require.NoError(t, err)

	var got struct {
		Subsets []struct {
			Addresses []struct {
				IP string `json:"ip"`
			} `json:"addresses"`
			Ports []struct {
				Port int32 `json:"port"`
			} `json:"ports"`
		} `json:"subsets"`
	}
	require.NoError(t, json.Unmarshal(ep.Spec, &got))
	require.Len(t, got.Subsets, 1)
	require.Len(t, got.Subsets[0].Addresses, 1)
	require.Equal(t, "10.0.0.1", got.Subsets[0].Addresses[0].IP)
	require.Equal(t, int32(8080), got.Subsets[0].Ports[0].Port)
}

func TestReconcileSkipsServicesWithoutSelector(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg)

	svcSpec, err := json.Marshal(map[string]any{})
	require.NoError(t, err)
	_, err = reg.Services().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "headless"},
		Spec:     svcSpec,
	})
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(context.Background()))

	_, err = reg.Endpoints().Get("default", "headless")
	require.Error(t, err)
	serr, ok := store.AsStoreError(err)
	require.True(t, ok)
	require.Equal(t, store.CodeNotFound, serr.Code)
}

func TestReconcileProducesEmptySubsetsWhenNoPodsReady(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg)

	svcSpec, err := json.Marshal(map[string]any{
		"selector": map[string]string{"app": "web"},
	})
	require.NoError(t, err)
	_, err = reg.Services().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "web"},
		Spec:     svcSpec,
	})
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(context.Background()))

	ep, err := reg.Endpoints().Get("default", "web")
	require.NoError(t, err)

	var got struct {
		Subsets []any `json:"subsets"`
	}
	require.NoError(t, json.Unmarshal(ep.Spec, &got))
	require.Empty(t, got.Subsets)
}

func TestReconcileUpdatesEndpointsWhenPodBecomesReady(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg)

	svcSpec, err := json.Marshal(map[string]any{
		"selector": map[string]string{"app": "web"},
	})
	require.NoError(t, err)
	_, err = reg.Services().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "web"},
		Spec:     svcSpec,
	})
	require.NoError(t, err)

	p, err := reg.Pods().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "web-1", Labels: map[string]string{"app": "web"}},
	})
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(context.Background()))
	ep, err := reg.Endpoints().Get("default", "web")
	require.NoError(t, err)
	firstRV := ep.Metadata.ResourceVersion

	status, err := json.Marshal(map[string]any{"phase": "Running", "podIP": "10.0.0.5"})
	require.NoError(t, err)
	_, err = reg.Pods().UpdateStatus("default", p.Metadata.Name, status)
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(context.Background()))
	ep, err = reg.Endpoints().Get("default", "web")
	require.NoError(t, err)
	require.NotEqual(t, firstRV, ep.Metadata.ResourceVersion)

	var got struct {
		Subsets []struct {
			Addresses []struct{ IP string } `json:"addresses"`
		} `json:"subsets"`
	}
	require.NoError(t, json.Unmarshal(ep.Spec, &got))
	require.Len(t, got.Subsets, 1)
	require.Equal(t, "10.0.0.5", got.Subsets[0].Addresses[0].IP)
}

func TestReconcileSteadyStateWritesNothing(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewReconciler(reg)

	svcSpec, err := json.Marshal(map[string]any{
		"selector": map[string]string{"app": "web"},
	})
	require.NoError(t, err)
	_, err = reg.Services().Create("default", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "web"},
		Spec:     svcSpec,
	})
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(context.Background()))
	ep, err := reg.Endpoints().Get("default", "web")
	require.NoError(t, err)
	firstRV := ep.Metadata.ResourceVersion

	require.NoError(t, r.Reconcile(context.Background()))
	ep, err = reg.Endpoints().Get("default", "web")
	require.NoError(t, err)
	require.Equal(t, firstRV, ep.Metadata.ResourceVersion)
}
