package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dkarpov/certmail/internal/config"
	"github.com/dkarpov/certmail/internal/metrics"
	"github.com/dkarpov/certmail/internal/project"
	"github.com/dkarpov/certmail/internal/render"
	"github.com/dkarpov/certmail/internal/sender"
	"github.com/dkarpov/certmail/internal/sheets"
	certtls "github.com/dkarpov/certmail/internal/tls"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	projects   *project.Store
	sheets     *sheets.Client
	compositor *render.Compositor
	sender     *sender.Sender
	config     *config.Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
	version    string
	startTime  time.Time
}

// NewServer creates a new API server. metrics may be nil when the
// metrics endpoint is disabled.
func NewServer(projects *project.Store, sc *sheets.Client, compositor *render.Compositor, snd *sender.Sender, cfg *config.Config, mx *metrics.Metrics, logger *slog.Logger, version string) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		projects:   projects,
		sheets:     sc,
		compositor: compositor,
		sender:     snd,
		config:     cfg,
		metrics:    mx,
		logger:     logger,
		version:    version,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	if s.metrics != nil && s.config.Metrics.Enabled {
		s.router.Method(http.MethodGet, s.config.Metrics.Path, s.metrics.Handler())
	}

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/sheets", s.handleListSheets)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Delete("/", s.handleDeleteProject)

				r.Post("/dataset/sheet", s.handleImportSheet)
				r.Post("/dataset/upload", s.handleUploadDataset)

				r.Put("/background", s.handleSetBackground)
				r.Post("/fields", s.handlePlaceField)
				r.Patch("/fields/{fieldID}", s.handleUpdateField)
				r.Delete("/fields/{fieldID}", s.handleDeleteField)

				r.Put("/email", s.handleSetEmail)
				r.Post("/step", s.handleAdvanceStep)

				r.Post("/preview", s.handlePreview)
				r.Post("/send", s.handleSend)
				r.Get("/report", s.handleReport)
			})
		})
	})
}

// Handler returns the server's root handler, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.API.ReadTimeout,
		WriteTimeout: s.config.API.WriteTimeout,
		IdleTimeout:  s.config.API.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.API.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// ListenAndServeTLS starts the HTTPS server with the given TLS provider
func (s *Server) ListenAndServeTLS(provider *certtls.Provider) error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.ListenAddr,
		Handler:      s.router,
		TLSConfig:    provider.Config(),
		ReadTimeout:  s.config.API.ReadTimeout,
		WriteTimeout: s.config.API.WriteTimeout,
		IdleTimeout:  s.config.API.IdleTimeout,
	}

	s.logger.Info("starting HTTPS API server", "addr", s.config.API.ListenAddr)
	return s.httpServer.ListenAndServeTLS(provider.CertFile(), provider.KeyFile())
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
