// Package server provides the HTTP listener that feeds document
// notifications into the work queue.
package server

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/agentstation/ownertag/internal/metrics"
	"github.com/agentstation/ownertag/internal/server/handlers"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	queue   handlers.Queue
	metrics *metrics.Metrics
	logger  *zerolog.Logger
	config  Config
	http    *http.Server
}

// New creates a server that submits notifications to queue. m may be nil,
// in which case /metrics is not served.
func New(cfg Config, queue handlers.Queue, m *metrics.Metrics, logger *zerolog.Logger) (*Server, error) {
	if queue == nil {
		return nil, errors.NewValidationError("queue", nil, "is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	defaults := DefaultConfig()
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = defaults.WebhookPath
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = defaults.AuthHeader
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}

	s := &Server{
		queue:   queue,
		metrics: m,
		logger:  logger,
		config:  cfg,
	}
	s.http = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.setupRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// ListenAndServe serves until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().
		Str("addr", s.http.Addr).
		Str("webhook_path", s.config.WebhookPath).
		Bool("auth", s.config.Secret != "").
		Msg("Webhook listener starting")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WrapIO("listen", s.http.Addr, err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down webhook listener")
	return s.http.Shutdown(ctx)
}
