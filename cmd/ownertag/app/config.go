package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/errors"
)

// Sync modes for the serve command.
const (
	ModeWebhook  = "webhook"
	ModeSchedule = "schedule"
	ModeHybrid   = "hybrid"
)

// Config holds the application configuration loaded from config files,
// environment variables and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool

	// Config file
	ConfigFile string

	// Document service
	PaperlessURL      string
	PaperlessToken    string
	AuthScheme        string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	UserCacheTTL      time.Duration

	// Owner-tags
	TagPrefix   string
	MappingFile string
	TagColor    string
	DryRun      bool

	// Drivers
	Mode             string
	SyncInterval     time.Duration
	SweepConcurrency int
	QueueWorkers     int
	QueueSize        int
	WebhookDelay     time.Duration

	// Webhook listener
	WebhookHost      string
	WebhookPort      int
	WebhookSecret    string
	WebhookRateLimit int
	WebhookMaxBody   int64
	MetricsEnabled   bool

	// Logging configuration
	LogLevel    string
	EnvLogLevel string
	LogFormat   string
	LogOutput   string
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables
// 3. .env files
// 4. Config file (./ownertag.yaml or ~/.ownertag.yaml, or OWNERTAG_CONFIG)
// 5. Defaults
//
// Values that fail to parse are reported together.
func LoadConfig() (*Config, error) {
	return load(os.Getenv("OWNERTAG_CONFIG"))
}

// LoadConfigFile loads configuration with path as the config file. The file
// must exist.
func LoadConfigFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.WrapIO("read", path, err)
			}
			return nil, errors.WrapParse("yaml", path, err)
		}
	}

	return fromViper(v)
}

// findConfigFile returns ./ownertag.yaml or ~/.ownertag.yaml, whichever
// exists first, or "".
func findConfigFile() string {
	candidates := []string{"ownertag.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".ownertag.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// setDefaults registers every key so that AutomaticEnv can find it. Keys map
// to environment names by upper-casing and replacing dots with underscores.
func setDefaults(v *viper.Viper) {
	v.SetDefault("paperless.url", constants.DefaultPaperlessURL)
	v.SetDefault("paperless.token", "")
	v.SetDefault("paperless.auth_scheme", constants.DefaultAuthScheme)
	v.SetDefault("request.timeout", constants.DefaultHTTPTimeout.String())
	v.SetDefault("requests.per_second", constants.DefaultRequestsPerSecond)
	v.SetDefault("user.cache_ttl", constants.DefaultUserCacheTTL.String())

	v.SetDefault("owner.tag_prefix", constants.DefaultTagPrefix)
	v.SetDefault("owner.mapping_file", constants.DefaultMappingFile)
	v.SetDefault("tag.color", constants.DefaultTagColor)
	v.SetDefault("dry.run", false)

	v.SetDefault("sync.mode", constants.DefaultMode)
	v.SetDefault("sync.interval", "")
	v.SetDefault("sync.interval_hours", 0)
	v.SetDefault("sweep.concurrency", constants.DefaultSweepConcurrency)
	v.SetDefault("queue.workers", constants.DefaultQueueWorkers)
	v.SetDefault("queue.size", constants.DefaultQueueSize)
	v.SetDefault("webhook.delay", constants.DefaultWebhookDelay.String())

	v.SetDefault("webhook.host", constants.DefaultWebhookHost)
	v.SetDefault("webhook.port", constants.DefaultWebhookPort)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.rate_limit", constants.DefaultWebhookRateLimit)
	v.SetDefault("webhook.max_body", constants.DefaultWebhookMaxBody)
	v.SetDefault("metrics.enabled", true)
}

func fromViper(v *viper.Viper) (*Config, error) {
	p := &parser{v: v}

	config := &Config{
		ConfigFile: v.ConfigFileUsed(),

		PaperlessURL:      strings.TrimRight(strings.TrimSpace(v.GetString("paperless.url")), "/"),
		PaperlessToken:    strings.TrimSpace(v.GetString("paperless.token")),
		AuthScheme:        v.GetString("paperless.auth_scheme"),
		RequestTimeout:    p.duration("request.timeout"),
		RequestsPerSecond: p.float("requests.per_second"),
		UserCacheTTL:      p.duration("user.cache_ttl"),

		TagPrefix:   v.GetString("owner.tag_prefix"),
		MappingFile: v.GetString("owner.mapping_file"),
		TagColor:    v.GetString("tag.color"),
		DryRun:      p.bool("dry.run"),

		Mode:             strings.ToLower(strings.TrimSpace(v.GetString("sync.mode"))),
		SyncInterval:     p.interval(),
		SweepConcurrency: p.int("sweep.concurrency"),
		QueueWorkers:     p.int("queue.workers"),
		QueueSize:        p.int("queue.size"),
		WebhookDelay:     p.duration("webhook.delay"),

		WebhookHost:      v.GetString("webhook.host"),
		WebhookPort:      p.int("webhook.port"),
		WebhookSecret:    v.GetString("webhook.secret"),
		WebhookRateLimit: p.int("webhook.rate_limit"),
		WebhookMaxBody:   int64(p.int("webhook.max_body")),
		MetricsEnabled:   p.bool("metrics.enabled"),

		EnvLogLevel: os.Getenv("LOG_LEVEL"),
		LogFormat:   getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput:   getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}

	if len(p.problems) > 0 {
		return nil, errors.NewValidationError("config", nil, strings.Join(p.problems, "; "))
	}
	return config, nil
}

// Validate reports every problem that would stop ownertag from talking to
// the document service.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.PaperlessURL == "" {
		add("PAPERLESS_URL is required")
	} else if !strings.HasPrefix(c.PaperlessURL, "http://") && !strings.HasPrefix(c.PaperlessURL, "https://") {
		add("PAPERLESS_URL must start with http:// or https://")
	}
	if c.PaperlessToken == "" {
		add("PAPERLESS_TOKEN is required")
	}
	if c.TagPrefix == "" {
		add("OWNER_TAG_PREFIX must not be empty")
	}
	switch c.Mode {
	case ModeWebhook, ModeSchedule, ModeHybrid:
	default:
		add("SYNC_MODE must be one of webhook, schedule, hybrid (got %q)", c.Mode)
	}
	if c.SyncInterval <= 0 {
		add("SYNC_INTERVAL must be positive")
	}
	if c.RequestTimeout < 0 {
		add("REQUEST_TIMEOUT must not be negative")
	}
	if c.SweepConcurrency < 1 {
		add("SWEEP_CONCURRENCY must be at least 1")
	}
	if c.QueueWorkers < 1 {
		add("QUEUE_WORKERS must be at least 1")
	}
	if c.QueueSize < 1 {
		add("QUEUE_SIZE must be at least 1")
	}
	if c.WebhookDelay < 0 {
		add("WEBHOOK_DELAY must not be negative")
	}
	if c.WebhookPort < 1 || c.WebhookPort > 65535 {
		add("WEBHOOK_PORT must be between 1 and 65535")
	}
	if c.WebhookRateLimit < 0 {
		add("WEBHOOK_RATE_LIMIT must not be negative")
	}

	if len(problems) > 0 {
		return errors.NewValidationError("config", nil, strings.Join(problems, "; "))
	}
	return nil
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// parser reads typed values and records the ones that fail to parse.
type parser struct {
	v        *viper.Viper
	problems []string
}

func (p *parser) fail(key, value, want string) {
	p.problems = append(p.problems, fmt.Sprintf("%s: %q is not a valid %s", envName(key), value, want))
}

func (p *parser) duration(key string) time.Duration {
	raw := strings.TrimSpace(p.v.GetString(key))
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// Bare numbers are seconds.
		if secs, nerr := strconv.Atoi(raw); nerr == nil {
			return time.Duration(secs) * time.Second
		}
		p.fail(key, raw, "duration")
		return 0
	}
	return d
}

func (p *parser) int(key string) int {
	raw := strings.TrimSpace(p.v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, "integer")
		return 0
	}
	return n
}

func (p *parser) float(key string) float64 {
	raw := strings.TrimSpace(p.v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, "number")
		return 0
	}
	return f
}

func (p *parser) bool(key string) bool {
	raw := strings.TrimSpace(p.v.GetString(key))
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, "boolean")
		return false
	}
	return b
}

// interval prefers SYNC_INTERVAL and falls back to the older
// SYNC_INTERVAL_HOURS.
func (p *parser) interval() time.Duration {
	if d := p.duration("sync.interval"); d > 0 {
		return d
	}
	if hours := p.int("sync.interval_hours"); hours > 0 {
		return time.Duration(hours) * time.Hour
	}
	return constants.DefaultSweepInterval
}

// envName returns the environment variable that sets key.
func envName(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// loadEnvFiles loads environment variables from .env files.
// godotenv never overrides variables that are already set, so .env.local
// is read first to take precedence over .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
