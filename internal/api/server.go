// Package api translates the Kubernetes REST shape onto Store operations:
// discovery documents, merge-patch, kind validation, and the sub-resource
// surface kubectl needs. The individual CRUD handlers are intentionally
// uniform across kinds, per the observation that their value is not in
// being distinct but in being mechanical and correct.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cpaika/gokube/internal/logging"
	"github.com/cpaika/gokube/internal/store"
)

// Server is the HTTP front-end: one chi.Router wired to a store.Registry.
type Server struct {
	registry      *store.Registry
	log           logging.Logger
	validate      *validator.Validate
	router        chi.Router
	startedAt     time.Time
	metrics       *metricsSet
	logSource     LogSource
	portForwarder PortForwarder
}

// LogSource retrieves the captured stdout/stderr for a Pod's containers;
// wired to the container runtime's ring buffer in cmd/gokube.
type LogSource func(namespace, name string) ([]byte, error)

// WithLogSource wires the pod log sub-resource to the runtime's captured
// output.
func WithLogSource(src LogSource) Option {
	return func(s *Server) { s.logSource = src }
}

// PortForwarder serves a port-forward upgrade request for the named Pod,
// validating the upgrade itself; it owns the connection for the request's
// lifetime.
// Defined here rather than depending on internal/portforward directly so
// the API package stays free of the runtime/streaming stack it fronts.
type PortForwarder func(w http.ResponseWriter, r *http.Request, namespace, name string)

// WithPortForwarder wires the Pod portforward sub-resource to the
// streaming multiplexer built over the container runtime.
func WithPortForwarder(pf PortForwarder) Option {
	return func(s *Server) { s.portForwarder = pf }
}

// Option configures a Server at construction, mirroring the functional
// options pattern used to build reconcilers throughout this codebase.
type Option func(*Server)

// WithLogger sets the Server's logger; the default is a no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer builds the Server and mounts every route.
func NewServer(registry *store.Registry, opts ...Option) *Server {
	s := &Server{
		registry:  registry,
		log:       logging.NewNopLogger(),
		validate:  validator.New(),
		startedAt: time.Now(),
		metrics:   newMetricsSet(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(s.metrics.middleware)

	s.router = r
	s.mountHealth(r)
	s.mountDiscovery(r)
	s.mountOpenAPI(r)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	s.mountResources(r)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type metricsSet struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// newMetricsSet uses a private registry, not the global default, so that
// constructing more than one Server in a process (as the test suite does)
// never panics on duplicate metric registration.
func newMetricsSet() *metricsSet {
	m := &metricsSet{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gokube_api_requests_total",
			Help: "Total HTTP requests handled by the API front-end.",
		}, []string{"method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "gokube_api_request_duration_seconds",
			Help: "API request latency.",
		}, []string{"method"}),
	}
	m.registry.MustRegister(m.requests, m.latency)
	return m
}

func (m *metricsSet) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		m.requests.WithLabelValues(r.Method, http.StatusText(ww.Status())).Inc()
		m.latency.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

func requestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debug("handling request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}
