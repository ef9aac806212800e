package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cpaika/gokube/internal/store"
)

// mountOpenAPI serves a minimal but schema-correct OpenAPI v2 document at
// /openapi/v2, generated from the same kind catalogue that drives
// discovery and routing, so kubectl can validate client-side without
// --validate=false. The prior Rust implementation's proto-v2 handler was an
// incomplete stub; this generates paths/definitions for every catalogue
// kind instead of hand-maintaining a parallel document.
func (s *Server) mountOpenAPI(r chi.Router) {
	r.Get("/openapi/v2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, buildOpenAPIV2())
	})
}

func buildOpenAPIV2() map[string]any {
	definitions := map[string]any{}
	paths := map[string]any{}

	for _, k := range store.Catalogue {
		def := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind":       map[string]any{"type": "string"},
				"apiVersion": map[string]any{"type": "string"},
				"metadata":   map[string]any{"type": "object"},
				"spec":       map[string]any{"type": "object"},
				"status":     map[string]any{"type": "object"},
			},
		}
		defName := k.Group + "." + k.Version + "." + k.Kind
		definitions[defName] = def

		base := "/" + apiPrefix(k) + "/" + k.Version
		if k.Namespaced {
			base += "/namespaces/{namespace}/" + k.Resource
		} else {
			base += "/" + k.Resource
		}
		paths[base] = map[string]any{
			"get":  openAPIOperation("list"+k.Kind, defName),
			"post": openAPIOperation("create"+k.Kind, defName),
		}
		paths[base+"/{name}"] = map[string]any{
			"get":   openAPIOperation("read"+k.Kind, defName),
			"put":   openAPIOperation("replace"+k.Kind, defName),
			"patch": openAPIOperation("patch"+k.Kind, defName),
			"delete": map[string]any{
				"operationId": "delete" + k.Kind,
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		}
	}

	return map[string]any{
		"swagger":     "2.0",
		"info":        map[string]any{"title": "gokube", "version": "v1"},
		"paths":       paths,
		"definitions": definitions,
	}
}

func apiPrefix(k store.KindInfo) string {
	if k.Group == "" {
		return "api"
	}
	return "apis/" + k.Group
}

func openAPIOperation(id, defName string) map[string]any {
	return map[string]any{
		"operationId": id,
		"responses": map[string]any{
			"200": map[string]any{
				"description": "OK",
				"schema":      map[string]any{"$ref": "#/definitions/" + defName},
			},
		},
	}
}
