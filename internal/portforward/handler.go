package portforward

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/cpaika/gokube/internal/logging"
	"github.com/cpaika/gokube/internal/store"
)

// upgradeTokens are the accepted Upgrade header values: the full
// SPDY-flavored token and a bare fallback for clients that don't speak
// SPDY/3.1 at all.
var upgradeTokens = map[string]bool{
	"SPDY/3.1+portforward.k8s.io": true,
	"portforward.k8s.io":          true,
}

// ContainerLookup resolves a Pod's single tracked container id, so the
// handler never has to know about the store's Pod status shape.
type ContainerLookup func(namespace, name string) (containerID string, podPhase string, err error)

// Handler serves the port-forward sub-resource: it validates the
// upgrade request, hijacks the connection, and runs a session for its
// lifetime.
type Handler struct {
	dialer Dialer
	lookup ContainerLookup
	log    logging.Logger
}

// NewHandler builds a port-forward Handler backed by dialer (normally the
// runtime) and lookup (normally the Pod repository plus a container id
// resolved from runtime labels).
func NewHandler(dialer Dialer, lookup ContainerLookup, log logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Handler{dialer: dialer, lookup: lookup, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, namespace, name string) {
	if !upgradeTokens[r.Header.Get("Upgrade")] {
		writeStoreError(w, store.ErrUpgradeRequired("expected Upgrade: SPDY/3.1+portforward.k8s.io"))
		return
	}

	containerID, phase, err := h.lookup(namespace, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if phase != "Running" {
		writeStoreError(w, store.NewError(store.CodeConflict, "pod %q is not Running", name))
		return
	}

	mappings := parsePorts(r.URL.Query().Get("ports"))
	if len(mappings) == 0 {
		writeStoreError(w, store.ErrInvalid("ports query parameter must list at least one valid port"))
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		writeStoreError(w, store.NewError(store.CodeInternal, "connection does not support upgrade"))
		return
	}
	conn, buf, err := hijacker.Hijack()
	if err != nil {
		h.log.Info("port-forward hijack failed", "error", err.Error())
		return
	}
	defer conn.Close()

	if err := writeUpgradeResponse(conn); err != nil {
		return
	}

	sess := newSession(hijackedReadWriter{conn: conn, buf: buf}, h.dialer, containerID, mappings, h.log)
	_ = sess.run(r.Context())
}

// writeUpgradeResponse writes the 101 Switching Protocols response
// directly onto the hijacked connection: after this point the socket is
// framed data, not HTTP.
func writeUpgradeResponse(conn net.Conn) error {
	_, err := conn.Write([]byte(
		"HTTP/1.1 101 Switching Protocols\r\n" +
			"Upgrade: SPDY/3.1\r\n" +
			"Connection: Upgrade\r\n" +
			"\r\n",
	))
	return err
}

// hijackedReadWriter adapts the hijacked net.Conn plus its already-
// buffered bufio.ReadWriter (which may hold bytes the client sent before
// the upgrade response landed) into the plain io.ReadWriter the session
// multiplexer needs. Reads drain the buffer first; writes go straight to
// the connection, so every frame reaches the client without a flush.
type hijackedReadWriter struct {
	conn net.Conn
	buf  interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
	}
}

func (h hijackedReadWriter) Read(p []byte) (int, error)  { return h.buf.Read(p) }
func (h hijackedReadWriter) Write(p []byte) (int, error) { return h.conn.Write(p) }

func writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if se, ok := store.AsStoreError(err); ok {
		switch se.Code {
		case store.CodeNotFound:
			status = http.StatusNotFound
		case store.CodeConflict:
			status = http.StatusConflict
		case store.CodeInvalid, store.CodeUpgradeRequired:
			status = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": se.Message})
		return
	}
	http.Error(w, err.Error(), status)
}
