package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cpaika/gokube/internal/store"
)

// mountSubresources wires the sub-resource surface for one kind's item
// path: status (every kind), scale (Deployment/ReplicaSet), binding (Pod),
// token (ServiceAccount), log (Pod), and exec/attach stubs (Pod).
func mountSubresources(r chi.Router, s *Server, k store.KindInfo, item string) {
	h := &kindHandler{server: s, kind: k}
	r.Get(item+"/status", h.getStatus)
	r.Put(item+"/status", h.putStatus)

	switch k.Kind {
	case "Deployment", "ReplicaSet":
		r.Get(item+"/scale", h.getScale)
		r.Put(item+"/scale", h.putScale)
	case "Pod":
		r.Post(item+"/binding", h.postBinding)
		r.Get(item+"/log", h.getLog)
		r.Get(item+"/portforward", h.getPortForward)
		r.Get(item+"/exec", stubNotImplemented)
		r.Get(item+"/attach", stubNotImplemented)
	case "ServiceAccount":
		r.Post(item+"/token", h.postToken)
	}
}

func stubNotImplemented(w http.ResponseWriter, r *http.Request) {
	writeError(w, store.NewError(store.CodeInvalid, "this sub-resource is not implemented"))
}

func (h *kindHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	obj, err := h.repo().Get(chi.URLParam(r, "namespace"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *kindHandler) putStatus(w http.ResponseWriter, r *http.Request) {
	obj, err := decodeResource(r, h.kind)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.repo().UpdateStatus(chi.URLParam(r, "namespace"), chi.URLParam(r, "name"), obj.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// scaleEnvelope is the narrowed projection the scale sub-resource
// exposes: spec.replicas, status.replicas, spec.selector.
type scaleEnvelope struct {
	Spec   scaleSpec   `json:"spec"`
	Status scaleStatus `json:"status"`
}
type scaleSpec struct {
	Replicas int32  `json:"replicas"`
	Selector string `json:"selector,omitempty"`
}
type scaleStatus struct {
	Replicas int32 `json:"replicas"`
}

func (h *kindHandler) getScale(w http.ResponseWriter, r *http.Request) {
	obj, err := h.repo().Get(chi.URLParam(r, "namespace"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	var spec struct {
		Replicas int32             `json:"replicas"`
		Selector map[string]string `json:"selector"`
	}
	_ = json.Unmarshal(obj.Spec, &spec)
	var status struct {
		Replicas int32 `json:"replicas"`
	}
	_ = json.Unmarshal(obj.Status, &status)

	selBytes, _ := json.Marshal(spec.Selector)
	writeJSON(w, http.StatusOK, scaleEnvelope{
		Spec:   scaleSpec{Replicas: spec.Replicas, Selector: string(selBytes)},
		Status: scaleStatus{Replicas: status.Replicas},
	})
}

func (h *kindHandler) putScale(w http.ResponseWriter, r *http.Request) {
	var body scaleEnvelope
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, store.ErrInvalid("malformed scale body: %v", err))
		return
	}
	ns, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	current, err := h.repo().Get(ns, name)
	if err != nil {
		writeError(w, err)
		return
	}
	merged, err := mergeRawSpec(current.Spec, struct {
		Replicas int32 `json:"replicas"`
	}{Replicas: body.Spec.Replicas})
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.repo().Update(ns, name, &store.Resource{
		Metadata: current.Metadata,
		Spec:     merged,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// postBinding sets spec.nodeName on a Pod; logically the scheduler's
// entrypoint, exposed here because a real kubectl-compatible client may
// also call it directly.
func (h *kindHandler) postBinding(w http.ResponseWriter, r *http.Request) {
	var binding struct {
		Target struct {
			Name string `json:"name"`
		} `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&binding); err != nil {
		writeError(w, store.ErrInvalid("malformed binding body: %v", err))
		return
	}
	ns, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	current, err := h.repo().Get(ns, name)
	if err != nil {
		writeError(w, err)
		return
	}
	merged, err := mergeRawSpec(current.Spec, struct {
		NodeName string `json:"nodeName"`
	}{NodeName: binding.Target.Name})
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.repo().Update(ns, name, &store.Resource{Metadata: current.Metadata, Spec: merged})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, updated)
}

// postToken returns a freshly generated opaque token, never verified
// anywhere; there is no real authentication behind it.
func (h *kindHandler) postToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, newTokenRequest())
}

// getLog streams the bounded in-container stdout/stderr ring buffer the
// runtime keeps per container; wired in cmd/gokube via WithLogSource.
func (h *kindHandler) getLog(w http.ResponseWriter, r *http.Request) {
	ns, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	if h.server.logSource == nil {
		writeError(w, store.NewError(store.CodeInvalid, "log retrieval is not configured"))
		return
	}
	logs, err := h.server.logSource(ns, name)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(logs)
}

// getPortForward hands the portforward upgrade request, as received and
// unchecked, to the streaming multiplexer wired in via WithPortForwarder;
// the handler itself owns the hijacked connection from here on.
func (h *kindHandler) getPortForward(w http.ResponseWriter, r *http.Request) {
	if h.server.portForwarder == nil {
		writeError(w, store.NewError(store.CodeInvalid, "port-forward is not configured"))
		return
	}
	h.server.portForwarder(w, r, chi.URLParam(r, "namespace"), chi.URLParam(r, "name"))
}
