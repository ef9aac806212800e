package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cpaika/gokube/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg, err := store.NewRegistry(db)
	require.NoError(t, err)
	return NewServer(reg)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestCreateGetDeletePod(t *testing.T) {
	s := newTestServer(t)

	createBody := `{"kind":"Pod","metadata":{"name":"p1"},"spec":{"containers":[{"name":"c","image":"x"}]}}`
	rec := doJSON(t, s, http.MethodPost, "/api/v1/namespaces/default/pods", createBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/namespaces/default/pods/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/namespaces/default/pods/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/namespaces/default/pods/p1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPodRequiresNonEmptyContainers(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/namespaces/default/pods", `{"kind":"Pod","metadata":{"name":"p1"},"spec":{"containers":[]}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClusterIPAllocationOnServiceCreate(t *testing.T) {
	s := newTestServer(t)

	rec1 := doJSON(t, s, http.MethodPost, "/api/v1/namespaces/default/services", `{"kind":"Service","metadata":{"name":"s1"},"spec":{"type":"ClusterIP"}}`)
	require.Equal(t, http.StatusCreated, rec1.Code)
	rec2 := doJSON(t, s, http.MethodPost, "/api/v1/namespaces/default/services", `{"kind":"Service","metadata":{"name":"s2"},"spec":{"type":"ClusterIP"}}`)
	require.Equal(t, http.StatusCreated, rec2.Code)

	var s1, s2 store.Resource
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &s1))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &s2))

	var spec1, spec2 serviceSpec
	require.NoError(t, json.Unmarshal(s1.Spec, &spec1))
	require.NoError(t, json.Unmarshal(s2.Spec, &spec2))

	require.NotEmpty(t, spec1.ClusterIP)
	require.NotEmpty(t, spec2.ClusterIP)
	require.NotEqual(t, spec1.ClusterIP, spec2.ClusterIP)
	require.True(t, strings.HasPrefix(spec1.ClusterIP, "10.96.0."))
}

func TestImmutableConfigMapRejectsDataChangeOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/namespaces/default/configmaps", `{"kind":"ConfigMap","metadata":{"name":"cm1"},"spec":{"data":{"k":"v"},"immutable":true}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created store.Resource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	updateBody := `{"kind":"ConfigMap","metadata":{"name":"cm1","resourceVersion":"` + created.Metadata.ResourceVersion + `"},"spec":{"data":{"k":"v2"},"immutable":true}}`
	rec = doJSON(t, s, http.MethodPut, "/api/v1/namespaces/default/configmaps/cm1", updateBody)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSecretStringDataFoldsIntoData(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/namespaces/default/secrets", `{"kind":"Secret","metadata":{"name":"sec1"},"spec":{"stringData":{"password":"hunter2"}}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created store.Resource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	var spec secretSpec
	require.NoError(t, json.Unmarshal(created.Spec, &spec))
	require.Nil(t, spec.StringData)
	require.Equal(t, "aHVudGVyMg==", spec.Data["password"])
}

func TestDiscoveryDocumentsServeCoreResources(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pods"`)
	require.Contains(t, rec.Body.String(), `"namespaces"`)

	rec = doJSON(t, s, http.MethodGet, "/apis", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"apps"`)

	rec = doJSON(t, s, http.MethodGet, "/openapi/v2", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestScaleSubresourceRoundTrip(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/apis/apps/v1/namespaces/default/deployments", `{"kind":"Deployment","metadata":{"name":"d1"},"spec":{"replicas":1,"selector":{"app":"x"}}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPut, "/apis/apps/v1/namespaces/default/deployments/d1/scale", `{"spec":{"replicas":5}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/apis/apps/v1/namespaces/default/deployments/d1/scale", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"replicas":5`)
}

func TestListPodsFiltersByLabelSelector(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/namespaces/default/pods", `{"kind":"Pod","metadata":{"name":"p1","labels":{"app":"x"}},"spec":{"containers":[{"name":"c","image":"img"}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, s, http.MethodPost, "/api/v1/namespaces/default/pods", `{"kind":"Pod","metadata":{"name":"p2","labels":{"app":"y"}},"spec":{"containers":[{"name":"c","image":"img"}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/namespaces/default/pods?labelSelector=app%3Dx", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Items []store.Resource `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, "p1", list.Items[0].Metadata.Name)
}

func TestPodStartsPendingOnCreate(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/namespaces/default/pods", `{"kind":"Pod","metadata":{"name":"p1"},"spec":{"containers":[{"name":"c","image":"x"}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/namespaces/default/pods/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"phase":"Pending"`)
}

func TestHorizontalPodAutoscalerReplicaBounds(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/apis/autoscaling/v1/namespaces/default/horizontalpodautoscalers", `{"kind":"HorizontalPodAutoscaler","metadata":{"name":"h1"},"spec":{"minReplicas":5,"maxReplicas":2}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/apis/autoscaling/v1/namespaces/default/horizontalpodautoscalers", `{"kind":"HorizontalPodAutoscaler","metadata":{"name":"h1"},"spec":{"minReplicas":1,"maxReplicas":4}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
}
