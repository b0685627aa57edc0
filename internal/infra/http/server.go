// Package http provides the API surface: scan triggering and inspection,
// suppression management, the GitHub webhook, and operational endpoints.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/pkg/logger"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Scans        *ScanHandler
	IgnoredRules *IgnoredRuleHandler
	Webhooks     *WebhookHandler
	Health       *HealthHandler
}

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	cfg        *config.ServerConfig
	logger     *logger.Logger
}

// NewServer creates the server with the full middleware chain and routes.
func NewServer(cfg *config.ServerConfig, h Handlers, log *logger.Logger) *Server {
	r := chi.NewRouter()

	r.Use(
		requestID,
		recovery(log),
		bodyLimit(cfg.MaxBodySize),
		metricsMiddleware,
		requestLogger(log),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/projects/{projectID}/scans", h.Scans.Trigger)
		r.Get("/scans/{scanID}", h.Scans.Get)
		r.Get("/scans/{scanID}/findings", h.Scans.ListFindings)
		r.Post("/projects/{projectID}/ignored-rules", h.IgnoredRules.Ignore)
		r.Delete("/projects/{projectID}/ignored-rules/{fingerprint}", h.IgnoredRules.Restore)
	})
	r.Post("/webhooks/github", h.Webhooks.HandleGitHub)
	r.Get("/healthz", h.Health.Handle)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  time.Minute,
		},
		cfg:    cfg,
		logger: log,
	}
}

// Handler returns the root handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(sctx)
}
