package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/cpaika/gokube/internal/store"
)

// mountDiscovery wires /api, /api/v1, /apis, and /apis/{group}/{version}.
// A kubectl client that cannot resolve these refuses to proceed.
func (s *Server) mountDiscovery(r chi.Router) {
	r.Get("/api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metav1.APIVersions{
			TypeMeta: metav1.TypeMeta{Kind: "APIVersions", APIVersion: "v1"},
			Versions: []string{"v1"},
		})
	})
	r.Get("/api/v1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resourceListForGroupVersion("", "v1"))
	})
	r.Get("/apis", func(w http.ResponseWriter, r *http.Request) {
		groups := make([]metav1.APIGroup, 0, len(store.Groups()))
		for _, g := range store.Groups() {
			groups = append(groups, metav1.APIGroup{
				TypeMeta:         metav1.TypeMeta{Kind: "APIGroup", APIVersion: "v1"},
				Name:             g,
				Versions:         []metav1.GroupVersionForDiscovery{{GroupVersion: g + "/v1", Version: "v1"}},
				PreferredVersion: metav1.GroupVersionForDiscovery{GroupVersion: g + "/v1", Version: "v1"},
			})
		}
		writeJSON(w, http.StatusOK, metav1.APIGroupList{
			TypeMeta: metav1.TypeMeta{Kind: "APIGroupList", APIVersion: "v1"},
			Groups:   groups,
		})
	})
	r.Get("/apis/{group}/{version}", func(w http.ResponseWriter, r *http.Request) {
		group := chi.URLParam(r, "group")
		version := chi.URLParam(r, "version")
		writeJSON(w, http.StatusOK, resourceListForGroupVersion(group, version))
	})
}

func resourceListForGroupVersion(group, version string) metav1.APIResourceList {
	var resources []metav1.APIResource
	for _, k := range store.Catalogue {
		if k.Group != group || k.Version != version {
			continue
		}
		verbs := metav1.Verbs{"create", "get", "list", "update", "patch", "delete"}
		resources = append(resources, metav1.APIResource{
			Name:       k.Resource,
			Kind:       k.Kind,
			Namespaced: k.Namespaced,
			Verbs:      verbs,
		})
	}
	gv := version
	if group != "" {
		gv = group + "/" + version
	}
	return metav1.APIResourceList{
		TypeMeta:     metav1.TypeMeta{Kind: "APIResourceList", APIVersion: "v1"},
		GroupVersion: gv,
		APIResources: resources,
	}
}
