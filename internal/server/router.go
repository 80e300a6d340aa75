package server

import (
	"net/http"

	"github.com/agentstation/ownertag/internal/server/handlers"
	"github.com/agentstation/ownertag/internal/server/middleware"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()
	h := handlers.New(s.queue, s.metrics, s.logger, s.config.MaxBodyBytes)

	s.registerRoutes(mux, h)

	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Public probes
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/ready", h.HandleReady)

	mux.HandleFunc(s.config.WebhookPath, h.HandleWebhook)

	if s.config.MetricsEnabled && s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
}

// applyMiddleware wraps handler with middleware chain. The last wrapper
// applied runs first.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config

	if cfg.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit, s.logger)
		handler = middleware.RateLimit(rateLimiter)(handler)
	}

	if cfg.Secret != "" {
		authConfig := middleware.DefaultAuthConfig()
		authConfig.Enabled = true
		authConfig.Secret = cfg.Secret
		authConfig.HeaderName = cfg.AuthHeader
		handler = middleware.Auth(authConfig, s.logger)(handler)
	}

	// Logging and recovery (always enabled)
	handler = middleware.Logger(s.logger)(handler)
	handler = middleware.Recovery(s.logger)(handler)

	return handler
}
