// Package httpapi is the gateway's HTTP front door: it decodes requests, hands them to
// the loader and the dispatch service and writes the JSON replies.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/zkgate/internal/dispatch"
	"github.com/R3E-Network/zkgate/internal/errors"
	"github.com/R3E-Network/zkgate/internal/events"
	"github.com/R3E-Network/zkgate/internal/hostinfo"
	internalhttputil "github.com/R3E-Network/zkgate/internal/httputil"
	"github.com/R3E-Network/zkgate/internal/loader"
	"github.com/R3E-Network/zkgate/internal/logging"
	"github.com/R3E-Network/zkgate/internal/metrics"
	"github.com/R3E-Network/zkgate/internal/middleware"
	"github.com/R3E-Network/zkgate/internal/registry"
)

const (
	ServiceName = "zkgate"

	// DefaultMaxBodyBytes leaves room for base64-encoded ELF uploads.
	DefaultMaxBodyBytes int64 = 512 << 20
)

// Deps are the collaborators the router serves. Registry, Dispatch and Loader are
// required; the rest may be nil.
type Deps struct {
	Registry *registry.Registry
	Dispatch *dispatch.Service
	Loader   *loader.Loader
	Host     *hostinfo.Collector
	Events   *events.RingBuffer
	Logger   *logging.Logger

	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	CORS        *middleware.CORSMiddleware

	MaxBodyBytes int64
	Version      string
}

type handler struct {
	registry *registry.Registry
	dispatch *dispatch.Service
	loader   *loader.Loader
	host     *hostinfo.Collector
	events   *events.RingBuffer
	logger   *logging.Logger
	maxBody  int64
	version  string
	now      func() time.Time
}

// NewRouter wires every route and the middleware chain.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	h := &handler{
		registry: d.Registry,
		dispatch: d.Dispatch,
		loader:   d.Loader,
		host:     d.Host,
		events:   d.Events,
		logger:   logger,
		maxBody:  d.MaxBodyBytes,
		version:  d.Version,
		now:      time.Now,
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}
	if h.host == nil {
		h.host = hostinfo.NewCollector()
	}
	if h.version == "" {
		h.version = "dev"
	}
	authm := d.Auth
	if authm == nil {
		authm = middleware.NewAuthMiddleware("", logger)
	}

	r := mux.NewRouter()
	r.Use(
		middleware.LoggingMiddleware(logger),
		middleware.MetricsMiddleware(),
		middleware.RecoveryMiddleware(logger),
	)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Handler)
	}
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/info", h.info).Methods(http.MethodGet)
	r.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)

	r.Handle("/register_program", authm.RequireAdmin(http.HandlerFunc(h.register))).Methods(http.MethodPost)
	r.HandleFunc("/programs", h.listPrograms).Methods(http.MethodGet)
	r.HandleFunc("/programs/{program_id}", h.getProgram).Methods(http.MethodGet)
	r.Handle("/programs/{program_id}", authm.RequireAdmin(http.HandlerFunc(h.removeProgram))).Methods(http.MethodDelete)

	operations := map[string]http.HandlerFunc{
		"/execute": h.execute,
		"/prove":   h.prove,
		"/verify":  h.verify,
	}
	for prefix, fn := range operations {
		r.HandleFunc(prefix, fn).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/{program_id}", fn).Methods(http.MethodPost)
	}

	if d.CORS != nil {
		return d.CORS.Handler(r)
	}
	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	internalhttputil.WriteServiceError(w, r, errors.NotFound("route", r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	internalhttputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		r.Method+" is not allowed on "+r.URL.Path, nil)
}
