package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cpaika/gokube/internal/controller"
	"github.com/cpaika/gokube/internal/store"
)

// maxSecretBytes is the serialized size cap a Secret body must not exceed.
const maxSecretBytes = 1 << 20

// kindHandler implements the mechanical CRUD surface for one catalogue
// kind. The handlers are deliberately uniform: the value in this system is
// not in having one handler per kind, it is in having the Store and
// discovery/merge-patch plumbing correct underneath a thin, repetitive
// layer.
type kindHandler struct {
	server *Server
	kind   store.KindInfo
}

func (h *kindHandler) repo() *store.Repository {
	repo, _ := h.server.registry.Repo(h.kind.Kind)
	return repo
}

func (h *kindHandler) list(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	list, err := h.repo().List(ns)
	if err != nil {
		writeError(w, err)
		return
	}
	if raw := r.URL.Query().Get("labelSelector"); raw != "" {
		selector, err := parseLabelSelector(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filtered := make([]*store.Resource, 0, len(list.Items))
		for _, item := range list.Items {
			if controller.MatchesSelector(item.Metadata.Labels, selector) {
				filtered = append(filtered, item)
			}
		}
		list.Items = filtered
	}
	writeJSON(w, http.StatusOK, list)
}

// parseLabelSelector parses the equality-based selector syntax kubectl
// sends on list requests: comma-separated k=v pairs, with k==v accepted as
// an alias for k=v. Set-based expressions are not supported.
func parseLabelSelector(raw string) (map[string]string, error) {
	selector := map[string]string{}
	for _, term := range strings.Split(raw, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		k, v, ok := strings.Cut(term, "=")
		if !ok || k == "" {
			return nil, store.ErrInvalid("malformed labelSelector term %q", term)
		}
		v = strings.TrimPrefix(v, "=")
		selector[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return selector, nil
}

func (h *kindHandler) get(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")
	obj, err := h.repo().Get(ns, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *kindHandler) create(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	obj, err := decodeResource(r, h.kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := normalizeForKind(h.server.validate, h.kind, obj); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.repo().Create(ns, obj)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.kind.Kind == "Service" {
		if err := allocateClusterIPIfNeeded(h.server.registry, created); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *kindHandler) update(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")
	obj, err := decodeResource(r, h.kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := normalizeForKind(h.server.validate, h.kind, obj); err != nil {
		writeError(w, err)
		return
	}
	// For update endpoints the front-end forces metadata.namespace/name to
	// match the URL, regardless of what the body claims.
	obj.Metadata.Namespace = ns
	obj.Metadata.Name = name

	updated, err := h.repo().Update(ns, name, obj)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *kindHandler) patch(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSecretBytes+1))
	if err != nil {
		writeError(w, store.ErrInvalid("cannot read request body: %v", err))
		return
	}
	patched, err := h.repo().Patch(ns, name, json.RawMessage(body))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patched)
}

func (h *kindHandler) delete(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	deleted, err := h.repo().Delete(ns, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.kind.Kind == "Service" {
		releaseClusterIP(h.server.registry, deleted)
	}
	writeJSON(w, http.StatusOK, deleted)
}

// decodeResource reads and validates the request body against the kind
// endpoint: the front-end rejects a body whose kind does not match.
func decodeResource(r *http.Request, kind store.KindInfo) (*store.Resource, error) {
	limit := int64(defaultMaxBodyBytes)
	if kind.Kind == "Secret" {
		limit = maxSecretBytes + 1
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return nil, store.ErrInvalid("cannot read request body: %v", err)
	}
	if kind.Kind == "Secret" && len(body) > maxSecretBytes {
		return nil, store.ErrPayloadTooLarge("Secret", "", maxSecretBytes)
	}

	var obj store.Resource
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, store.ErrInvalid("malformed JSON body: %v", err)
	}
	if obj.Kind != "" && obj.Kind != kind.Kind {
		return nil, store.ErrInvalid("expected kind %q, got %q", kind.Kind, obj.Kind)
	}
	obj.Kind = kind.Kind
	obj.APIVersion = kind.APIVersion()
	return &obj, nil
}

const defaultMaxBodyBytes = 8 << 20
