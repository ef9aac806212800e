package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/cpaika/gokube/internal/store"
)

// mountResources wires the namespaced and cluster-scoped resource paths for
// every catalogue kind: /{group}/{version}/namespaces/{ns}/{resource}[/{name}[/{sub}]]
// and /{group}/{version}/{resource}[/{name}[/{sub}]]. One route table drives
// every kind; the handlers are generic over store.KindInfo.
func (s *Server) mountResources(r chi.Router) {
	for _, k := range store.Catalogue {
		k := k
		prefix := "/api"
		if k.Group != "" {
			prefix = "/apis/" + k.Group
		}
		base := prefix + "/" + k.Version
		h := &kindHandler{server: s, kind: k}

		if k.Namespaced {
			collection := base + "/namespaces/{namespace}/" + k.Resource
			item := collection + "/{name}"
			r.Get(collection, h.list)
			r.Post(collection, h.create)
			r.Get(item, h.get)
			r.Put(item, h.update)
			r.Patch(item, h.patch)
			r.Delete(item, h.delete)
			mountSubresources(r, s, k, item)
		} else {
			collection := base + "/" + k.Resource
			item := collection + "/{name}"
			r.Get(collection, h.list)
			r.Post(collection, h.create)
			r.Get(item, h.get)
			r.Put(item, h.update)
			r.Patch(item, h.patch)
			r.Delete(item, h.delete)
			mountSubresources(r, s, k, item)
		}

		// Also expose a list-all-namespaces route for namespaced kinds,
		// e.g. GET /api/v1/pods, matching kubectl's --all-namespaces path.
		if k.Namespaced {
			r.Get(base+"/"+k.Resource, h.list)
		}
	}
}
