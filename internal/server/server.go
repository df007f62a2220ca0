package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/raysh454/kansa/internal/app"
	"github.com/raysh454/kansa/internal/dispatch"
	"github.com/raysh454/kansa/internal/engine"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
	_ "github.com/raysh454/kansa/internal/server/docs" // swagger spec
	"github.com/raysh454/kansa/internal/store"
	"github.com/raysh454/kansa/internal/telemetry"
)

// Server is the HTTP + WebSocket API surface for Kansa.
type Server struct {
	cfg          Config
	orchestrator *app.Orchestrator
	metrics      *telemetry.Metrics
	router       chi.Router
	upgrader     websocket.Upgrader
	logger       logging.Logger
}

// NewServer builds the router over an already wired orchestrator.
func NewServer(cfg Config, orch *app.Orchestrator, metrics *telemetry.Metrics) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}

	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		metrics:      metrics,
		router:       chi.NewRouter(),
		logger:       logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	s.routes()
	return s
}

// Orchestrator returns the underlying orchestrator for advanced use (tests, etc.).
func (s *Server) Orchestrator() *app.Orchestrator {
	return s.orchestrator
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/tenants", s.optionsHandler("GET, POST"))
	r.Options("/tenants/{tenant}", s.optionsHandler("GET, DELETE"))
	r.Options("/tenants/{tenant}/assessments", s.optionsHandler("POST"))
	r.Options("/tenants/{tenant}/inventory", s.optionsHandler("POST"))
	r.Options("/tenants/{tenant}/runs", s.optionsHandler("GET"))
	r.Options("/assessments/*", s.optionsHandler("GET, DELETE"))
	r.Options("/inventory/*", s.optionsHandler("GET, DELETE"))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// Tenants
	r.Post("/tenants", s.handleCreateTenant)
	r.Get("/tenants", s.handleListTenants)
	r.Get("/tenants/{tenant}", s.handleGetTenant)
	r.Delete("/tenants/{tenant}", s.handleDeleteTenant)

	// Runs
	r.Post("/tenants/{tenant}/assessments", s.handleStartRun(model.KindAssessment))
	r.Post("/tenants/{tenant}/inventory", s.handleStartRun(model.KindInventory))
	r.Get("/tenants/{tenant}/runs", s.handleListRuns)

	r.Route("/assessments/{id}", func(r chi.Router) {
		s.runRoutes(r, model.KindAssessment)
		r.Get("/findings", s.handleFindings)
	})
	r.Route("/inventory/{id}", func(r chi.Router) {
		s.runRoutes(r, model.KindInventory)
		r.Get("/drift", s.handleDrift)
	})

	// WebSocket progress stream
	r.Get("/ws/runs/{id}", s.handleRunWS)
}

func (s *Server) runRoutes(r chi.Router, kind model.RunKind) {
	r.Get("/", s.handleGetRun(kind))
	r.Delete("/", s.handleCancelRun(kind))
	r.Get("/progress", s.handleProgress(kind))
	r.Get("/report", s.handleReport(kind))
	r.Get("/domains/{domain}", s.handleDomainDetail(kind))
}

func (s *Server) originAllowed(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.cfg.AllowedOrigins) > 0 {
			origin = ""
			if s.originAllowed(r) {
				origin = r.Header.Get("Origin")
			}
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}
	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}
	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrRunNotFound),
		errors.Is(err, store.ErrTenantNotFound),
		errors.Is(err, engine.ErrDomainNotInRun):
		return http.StatusNotFound
	case errors.Is(err, app.ErrInvalidRequest),
		errors.Is(err, app.ErrUnknownKind),
		errors.Is(err, engine.ErrInvalidTenant),
		errors.Is(err, engine.ErrUnknownDomain),
		errors.Is(err, engine.ErrNoDomains):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotTerminal),
		errors.Is(err, app.ErrTenantBusy):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrQueueFull),
		errors.Is(err, dispatch.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and writes it with its mapped status.
func (s *Server) fail(w http.ResponseWriter, op string, err error, fields ...logging.Field) {
	status := statusFor(err)
	fields = append(fields, logging.Field{Key: "error", Value: err.Error()}, logging.Field{Key: "status", Value: status})
	if status >= http.StatusInternalServerError {
		s.logger.Error(op, fields...)
	} else {
		s.logger.Warn(op, fields...)
	}
	writeError(w, status, err.Error())
}
