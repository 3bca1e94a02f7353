// Package httpapi exposes the lifecycle orchestrator over a REST API plus an
// SSE event stream. It is a thin presentation layer: handlers decode, call
// the orchestrator, and translate domain errors to HTTP statuses; no
// lifecycle policy lives here.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mcpdock-go/internal/authflow"
	"mcpdock-go/internal/config"
	"mcpdock-go/internal/configimport"
	"mcpdock-go/internal/discovery"
	"mcpdock-go/internal/lifecycle"
	"mcpdock-go/internal/observability"
	"mcpdock-go/internal/registry"
	"mcpdock-go/internal/state"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

// buildVersion is set during build using -ldflags
var buildVersion = "development"

// GetBuildVersion returns the version baked in at build time.
func GetBuildVersion() string {
	return buildVersion
}

// Server provides the HTTP API with a chi router.
type Server struct {
	orch   *lifecycle.Orchestrator
	obs    *observability.Manager
	cfg    *config.Config
	logger *zap.Logger
	router *chi.Mux
}

// NewServer creates the HTTP API server. The observability manager is
// optional; without it the health endpoints fall back to plain liveness
// replies and /metrics is not registered.
func NewServer(orch *lifecycle.Orchestrator, obs *observability.Manager, cfg *config.Config, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		orch:   orch,
		obs:    obs,
		cfg:    cfg,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve runs the API on addr until the context is cancelled, then shuts the
// listener down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.logger.Info("HTTP API listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) setupRoutes() {
	if s.obs != nil {
		s.router.Use(s.obs.HTTPMiddleware())
	}

	s.router.Use(s.requestLoggingMiddleware())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	// CORS headers for the local web UI
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	if s.obs != nil && s.obs.Health() != nil {
		s.router.Get("/healthz", s.obs.Health().HealthzHandler())
		s.router.Get("/readyz", s.obs.Health().ReadyzHandler())
	} else {
		s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		s.router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ready":true}`))
		})
	}
	if s.obs != nil && s.obs.Metrics() != nil {
		s.router.Handle("/metrics", s.obs.Metrics().Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		// The auth callback is reached by a user agent that carries no API
		// key; the signed state token is its credential.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/auth/callback", s.handleAuthCallback)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.apiKeyMiddleware())

			// The SSE stream stays outside the request timeout.
			r.Get("/events", s.handleEvents)
			r.Head("/events", s.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))

				r.Get("/status", s.handleGetStatus)

				r.Get("/servers", s.handleListServers)
				r.Post("/servers", s.handleCreateServer)
				r.Route("/servers/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetServer)
					r.Patch("/", s.handleUpdateServer)
					r.Delete("/", s.handleDeleteServer)
					r.Post("/connect", s.handleConnectServer)
					r.Post("/reconnect", s.handleConnectServer)
					r.Post("/disconnect", s.handleDisconnectServer)
					r.Post("/auth", s.handleBeginAuth)
					r.Get("/tools", s.handleListServerTools)
					r.Post("/tools/disable-all", s.handleDisableAllTools)
				})

				r.Post("/tools/enable", s.handleToggleTools)
				r.Get("/tools/search", s.handleSearchTools)

				r.Post("/import", s.handleImport)
			})
		})
	})
}

// apiKeyMiddleware rejects requests without the configured API key. An empty
// configured key disables the check; the daemon binds to loopback by default.
func (s *Server) apiKeyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.APIKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				// Query fallback for SSE and browser-initiated requests.
				key = r.URL.Query().Get("apikey")
			}
			if key != s.cfg.APIKey {
				s.logger.Warn("Rejected request with missing or invalid API key",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requestLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if ww.statusCode >= http.StatusInternalServerError {
				s.logger.Warn("HTTP request failed", fields...)
			} else {
				s.logger.Debug("HTTP request", fields...)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush delegates to the underlying ResponseWriter so SSE keeps working
// through the logging wrapper.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// apiResponse is the envelope every JSON endpoint replies with.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeSuccess(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, apiResponse{Success: false, Error: message})
}

// writeDomainError translates a lifecycle error into an HTTP status. Stale
// auth flows never reach here; the callback handler reports them as warnings.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	var (
		validation *registry.ValidationError
		notFound   *registry.NotFoundError
		conflict   *registry.ConflictError
		inProgress *registry.AlreadyInProgressError
		transition *state.InvalidTransitionError
		connFailed *discovery.ConnectionFailedError
		importErr  *configimport.ImportError
		stale      *authflow.StaleFlowError
	)

	switch {
	case errors.As(err, &validation),
		errors.As(err, &importErr),
		errors.Is(err, configimport.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict),
		errors.As(err, &inProgress),
		errors.As(err, &transition),
		errors.Is(err, registry.ErrDiscoveryDiscarded):
		return http.StatusConflict
	case errors.As(err, &connFailed):
		return http.StatusBadGateway
	case errors.Is(err, lifecycle.ErrIndexDisabled):
		return http.StatusNotImplemented
	case errors.As(err, &stale):
		// Not a failure; callers that can reach this report it inline.
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
