// Package constants provides defaults shared by the ownertag components.
package constants

import "time"

// Timeouts and intervals.
const (
	// DefaultHTTPTimeout bounds every call to the document service.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultSweepInterval is the time between periodic full sweeps.
	DefaultSweepInterval = 6 * time.Hour

	// SweepTimeout bounds a single full sweep.
	SweepTimeout = 2 * time.Hour

	// DefaultWebhookDelay lets the service finish post-consumption work
	// before a notified document is read.
	DefaultWebhookDelay = 2 * time.Second

	// DefaultUserCacheTTL bounds how long resolved usernames are trusted.
	DefaultUserCacheTTL = 5 * time.Minute

	// Listener timeouts.
	WebhookReadTimeout  = 10 * time.Second
	WebhookWriteTimeout = 10 * time.Second
	WebhookIdleTimeout  = 120 * time.Second

	// ShutdownTimeout bounds graceful shutdown of the listener and queue.
	ShutdownTimeout = 30 * time.Second
)

// File permissions.
const (
	// FilePermissions is the default permission for created files (rw-r--r--).
	FilePermissions = 0644
)

// Limits.
const (
	// DefaultPageSize is the page size requested from list endpoints.
	DefaultPageSize = 100

	// DefaultSweepConcurrency is the number of documents reconciled at once.
	DefaultSweepConcurrency = 4

	// DefaultQueueWorkers is the number of webhook queue workers.
	DefaultQueueWorkers = 4

	// DefaultQueueSize is the webhook queue capacity.
	DefaultQueueSize = 256

	// DefaultRequestsPerSecond paces calls to the document service.
	DefaultRequestsPerSecond = 10

	// DefaultRequestBurst is the pacing burst size.
	DefaultRequestBurst = 5

	// MaxErrorBody caps how much of an error response is kept.
	MaxErrorBody = 4096

	// DefaultWebhookRateLimit is requests per minute per client.
	DefaultWebhookRateLimit = 600

	// DefaultWebhookMaxBody caps a notification body in bytes.
	DefaultWebhookMaxBody = 64 << 10
)

// Deployment defaults, matching the environment variables of the same name.
const (
	DefaultPaperlessURL = "http://localhost:8000"
	DefaultTagPrefix    = "owner:"
	DefaultMappingFile  = "owner_tag_mapping.json"
	DefaultTagColor     = "#007bff"
	DefaultAuthScheme   = "Token"
	DefaultWebhookHost  = "0.0.0.0"
	DefaultWebhookPort  = 5000
	DefaultMode         = "webhook"
)
