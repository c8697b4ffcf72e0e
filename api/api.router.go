// FilePath: server/meterhub/api/api.router.go
package api

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/itsatony/w4b_v3/server/meterhub/api/middleware"
	"github.com/itsatony/w4b_v3/server/meterhub/api/resources"
	_ "github.com/itsatony/w4b_v3/server/meterhub/docs"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/config"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/hubservice"
	nuts "github.com/vaudience/go-nuts"
)

type Router struct {
	router    *mux.Router
	resources *resources.Resources
	handler   http.Handler
}

type RouterOption func(*routerOptions)

type routerOptions struct {
	accessLog io.Writer
}

// WithAccessLogWriter sends the combined access log to w instead of stdout.
func WithAccessLogWriter(w io.Writer) RouterOption {
	return func(o *routerOptions) { o.accessLog = w }
}

func NewRouter(svc *hubservice.HubService, cfg config.ServerConfig, opts ...RouterOption) *Router {
	o := routerOptions{accessLog: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Router{
		router:    mux.NewRouter(),
		resources: resources.NewResources(svc),
	}
	r.setupRoutes()

	var h http.Handler = r.router
	h = middleware.NoStore(h)
	h = middleware.RequestID(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", middleware.RequestIDHeader}),
		handlers.ExposedHeaders([]string{middleware.RequestIDHeader}),
	)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(h)
	if cfg.AccessLog {
		h = handlers.CombinedLoggingHandler(o.accessLog, h)
	}
	r.handler = h
	return r
}

func (r *Router) setupRoutes() {
	r.router.NotFoundHandler = http.HandlerFunc(resources.NotFound)
	r.router.MethodNotAllowedHandler = http.HandlerFunc(resources.MethodNotAllowed)

	// API version prefix
	api := r.router.PathPrefix(hubservice.APIPrefix).Subrouter()
	api.NotFoundHandler = r.router.NotFoundHandler
	api.MethodNotAllowedHandler = r.router.MethodNotAllowedHandler

	// System
	api.HandleFunc("/health", r.resources.System.Health).Methods(http.MethodGet)
	api.HandleFunc("/healthz", r.resources.System.Health).Methods(http.MethodGet)
	api.HandleFunc("/metrics", r.resources.System.Metrics).Methods(http.MethodGet)
	api.HandleFunc("/swagger.json", r.resources.System.Swagger).Methods(http.MethodGet)

	// Capture
	api.HandleFunc("/capture", r.resources.Capture.RequestCapture).Methods(http.MethodPost)
	api.HandleFunc("/capture/next", r.resources.Capture.NextCapture).Methods(http.MethodGet)
	api.HandleFunc("/capture/ack", r.resources.Capture.AckCapture).Methods(http.MethodPost)
	api.HandleFunc("/capture/state", r.resources.Capture.CaptureState).Methods(http.MethodGet)

	// Relay
	api.HandleFunc("/relay/activate", r.resources.Relay.ActivateRelay).Methods(http.MethodPost)
	api.HandleFunc("/relay/next", r.resources.Relay.NextRelay).Methods(http.MethodGet)
	api.HandleFunc("/relay/ack", r.resources.Relay.AckRelay).Methods(http.MethodPost)
	api.HandleFunc("/relay/state", r.resources.Relay.RelayState).Methods(http.MethodGet)

	// Artifacts
	api.HandleFunc("/upload", r.resources.Artifacts.Upload).Methods(http.MethodPost)
	api.HandleFunc("/latest", r.resources.Artifacts.Latest).Methods(http.MethodGet)
	api.HandleFunc("/latest.jpg", r.resources.Artifacts.LatestImage).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{ref}", r.resources.Artifacts.GetArtifact).Methods(http.MethodGet)
	api.HandleFunc("/analyze", r.resources.Artifacts.Analyze).Methods(http.MethodPost)

	// History
	api.HandleFunc("/history", r.resources.History.ListHistory).Methods(http.MethodGet)

	// A method mismatch under the subrouter falls through to NotFound, so
	// each path gets a catch-all registered after its real route.
	for _, path := range []string{
		"/health", "/healthz", "/metrics", "/swagger.json",
		"/capture", "/capture/next", "/capture/ack", "/capture/state",
		"/relay/activate", "/relay/next", "/relay/ack", "/relay/state",
		"/upload", "/latest", "/latest.jpg", "/artifacts/{ref}", "/analyze",
		"/history",
	} {
		api.HandleFunc(path, resources.MethodNotAllowed)
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	nuts.L.Errorf("[API] Recovered from panic: %s", fmt.Sprint(v...))
}
