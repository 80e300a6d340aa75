package middleware

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// AuthConfig holds shared-secret authentication configuration.
type AuthConfig struct {
	Enabled     bool
	Secret      string
	HeaderName  string
	PublicPaths []string
}

// DefaultAuthConfig returns default authentication configuration.
// Authentication is off until a secret is configured.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:     false,
		HeaderName:  "X-Webhook-Token",
		PublicPaths: []string{"/health", "/ready", "/metrics"},
	}
}

// Auth rejects requests to non-public paths that do not present the
// configured secret.
func Auth(config AuthConfig, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled || slices.Contains(config.PublicPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r, config.HeaderName)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(config.Secret)) != 1 {
				logger.Warn().
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Bool("token_provided", token != "").
					Msg("Authentication failed")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"data":null,"error":{"code":"UNAUTHORIZED","message":"Invalid or missing webhook token","details":"Provide the token in the ` + config.HeaderName + ` header"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads the secret from the custom header, then from an
// "Authorization: Bearer" header.
func extractToken(r *http.Request, header string) string {
	if header != "" {
		if token := r.Header.Get(header); token != "" {
			return token
		}
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
