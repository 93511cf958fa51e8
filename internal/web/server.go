// Package web provides the HTTP API for CSV import and export of users.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/userdir/internal/config"
	"github.com/JonMunkholm/userdir/internal/core"
	"github.com/JonMunkholm/userdir/internal/metrics"
	mw "github.com/JonMunkholm/userdir/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the user CSV API.
type Server struct {
	service  *core.Service
	health   Pinger
	metrics  *metrics.Metrics
	cfg      *config.Config
	validate *validator.Validate
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new Server instance. m may be nil, in which case no
// request metrics are recorded and /metrics is not served.
func NewServer(service *core.Service, health Pinger, m *metrics.Metrics, cfg *config.Config) *Server {
	s := &Server{
		service:  service,
		health:   health,
		metrics:  m,
		cfg:      cfg,
		validate: validator.New(),
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Error: "not found", Message: "not found", Code: "NOT_FOUND"})
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusMethodNotAllowed)
		render.JSON(w, r, ErrorResponse{Error: "method not allowed", Message: "method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Route("/api/users/csv", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		// Uploads and the template finish in bounded time.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			}
			r.Post("/import", s.handleImport)
			r.Post("/check-duplicates", s.handleCheckDuplicates)
			r.Get("/sample", s.handleSample)
		})

		// Exports stream for as long as the client keeps reading.
		r.Get("/export", s.handleExport)
		r.Post("/export", s.handleExport)
		r.Get("/export/fast", s.handleExportFast)
		r.Post("/export/fast", s.handleExportFast)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

type healthResponse struct {
	Status   string             `json:"status"`
	Database string             `json:"database"`
	Imports  core.LimiterStatus `json:"imports"`
}

// handleHealth pings the store and reports import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Imports:  s.service.Limiter().Status(),
	}
	if s.health != nil {
		if err := s.health.Ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			render.Status(r, http.StatusServiceUnavailable)
		}
	}
	render.JSON(w, r, resp)
}
