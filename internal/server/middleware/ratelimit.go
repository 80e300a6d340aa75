package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimiter implements token bucket rate limiting per client address.
// Idle clients expire from the visitor cache.
type RateLimiter struct {
	visitors *gocache.Cache
	limit    rate.Limit
	burst    int
	logger   *zerolog.Logger
}

// NewRateLimiter creates a limiter allowing perMinute requests per client,
// with bursts of up to perMinute.
func NewRateLimiter(perMinute int, logger *zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		visitors: gocache.New(10*time.Minute, 5*time.Minute),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		logger:   logger,
	}
}

// allow checks if a request from the client is allowed.
func (rl *RateLimiter) allow(client string) bool {
	if v, ok := rl.visitors.Get(client); ok {
		rl.visitors.SetDefault(client, v)
		return v.(*rate.Limiter).Allow()
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	if err := rl.visitors.Add(client, limiter, gocache.DefaultExpiration); err != nil {
		// Another request registered the client first.
		if v, ok := rl.visitors.Get(client); ok {
			return v.(*rate.Limiter).Allow()
		}
	}
	return limiter.Allow()
}

// RateLimit middleware limits requests per client address. Public probe
// paths are not limited.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbe(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			client := clientAddr(r)
			if !rl.allow(client) {
				rl.logger.Warn().
					Str("client", client).
					Str("path", r.URL.Path).
					Msg("Rate limit exceeded")

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				// Write error response; if this fails, connection is likely broken
				if _, writeErr := w.Write([]byte(`{"data":null,"error":{"code":"RATE_LIMITED","message":"Rate limit exceeded","details":"Too many requests. Please try again later."}}`)); writeErr != nil {
					rl.logger.Error().Err(writeErr).Msg("Failed to write rate limit error response")
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr returns the first X-Forwarded-For hop, else the remote host.
func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
