package server

import (
	"net"
	"strconv"
	"time"

	"github.com/agentstation/ownertag/pkg/constants"
)

// Config holds the webhook listener configuration.
type Config struct {
	// Listener settings
	Host string
	Port int

	// WebhookPath is where document notifications are accepted.
	WebhookPath string

	// Authentication settings
	Secret     string
	AuthHeader string

	// Request limits
	RateLimit    int // Requests per minute per client (0 to disable)
	MaxBodyBytes int64

	// HTTP timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Features
	MetricsEnabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:           constants.DefaultWebhookHost,
		Port:           constants.DefaultWebhookPort,
		WebhookPath:    "/webhook/document",
		AuthHeader:     "X-Webhook-Token",
		RateLimit:      constants.DefaultWebhookRateLimit,
		MaxBodyBytes:   constants.DefaultWebhookMaxBody,
		ReadTimeout:    constants.WebhookReadTimeout,
		WriteTimeout:   constants.WebhookWriteTimeout,
		IdleTimeout:    constants.WebhookIdleTimeout,
		MetricsEnabled: true,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
