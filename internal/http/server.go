// Package http provides the HTTP server and API handlers for recanalyzer.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/recanalyzer/recanalyzer/internal/config"
	"github.com/recanalyzer/recanalyzer/internal/http/handlers"
	"github.com/recanalyzer/recanalyzer/internal/http/middleware"
)

// Server represents the HTTP server.
type Server struct {
	config     config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with the given configuration. The
// version parameter feeds the OpenAPI spec and should match the build
// version.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	handlers.UseCompactErrors()

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("recanalyzer API", version)
	humaConfig.Info.Description = "CCTV recording and vision analysis task API"

	api := humachi.New(router, humaConfig)

	return &Server{
		config: cfg,
		router: router,
		api:    api,
		logger: logger,
	}
}

// API returns the Huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the Chi router for registering additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	s.logger.Info("starting HTTP server", slog.String("address", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server",
		slog.Duration("timeout", s.config.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// ListenAndServe starts the server and shuts it down when ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
