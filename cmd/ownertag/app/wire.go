package app

import (
	"context"
	"time"

	"github.com/agentstation/ownertag/internal/metrics"
	"github.com/agentstation/ownertag/internal/paperless"
	"github.com/agentstation/ownertag/internal/server"
	"github.com/agentstation/ownertag/internal/transport"
	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/documents"
	"github.com/agentstation/ownertag/pkg/mapping"
	"github.com/agentstation/ownertag/pkg/reconciler"
	"github.com/agentstation/ownertag/pkg/tagdir"
)

// services holds the components shared by every command that talks to the
// document service.
type services struct {
	client     *paperless.Client
	resolver   *mapping.Resolver
	tags       *tagdir.Directory
	reconciler reconciler.Reconciler
	metrics    *metrics.Metrics
}

// connect validates the configuration, checks connectivity and wires the
// reconciler. m may be nil.
func (a *App) connect(ctx context.Context, m *metrics.Metrics) (*services, error) {
	cfg := a.config
	logger := a.logger

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	overrides, err := a.loadMapping()
	if err != nil {
		return nil, err
	}

	httpClient, err := transport.New(cfg.PaperlessURL, cfg.PaperlessToken,
		transport.WithTimeout(cfg.RequestTimeout),
		transport.WithAuthenticator(transport.AuthForScheme(cfg.AuthScheme)),
		transport.WithRateLimit(cfg.RequestsPerSecond, constants.DefaultRequestBurst),
		transport.WithUserAgent("ownertag/"+a.version),
	)
	if err != nil {
		return nil, err
	}

	client := paperless.New(httpClient,
		paperless.WithLogger(logger),
		paperless.WithPageSize(constants.DefaultPageSize),
		paperless.WithTagColor(cfg.TagColor),
		paperless.WithUserCacheTTL(cfg.UserCacheTTL),
		paperless.WithTimeout(cfg.RequestTimeout),
	)

	if err := client.Ping(ctx); err != nil {
		return nil, err
	}
	logger.Info().Str("url", httpClient.BaseURL()).Msg("Connected to Paperless")

	// Warming the user cache is an optimisation; misses are fetched on demand.
	if n, err := client.LoadUsers(ctx); err != nil {
		logger.Warn().Err(err).Msg("Could not preload users")
	} else {
		logger.Info().Int("users", n).Msg("Loaded users")
	}

	resolver := mapping.New(cfg.TagPrefix, overrides)
	tags := tagdir.New(client,
		tagdir.WithLogger(logger),
		tagdir.WithTimeout(cfg.RequestTimeout),
		tagdir.WithOnCreate(func(documents.Tag) { m.TagCreated() }),
	)

	rec, err := reconciler.New(client, tags, resolver,
		reconciler.WithTimeout(cfg.RequestTimeout),
		reconciler.WithDryRun(cfg.DryRun),
		reconciler.WithLogger(logger),
		reconciler.WithObserver(func(res *reconciler.Result, err error, elapsed time.Duration) {
			var status string
			if res != nil {
				status = string(res.Status)
			}
			m.ObserveReconcile(status, err, elapsed)
		}),
	)
	if err != nil {
		return nil, err
	}

	if cfg.DryRun {
		logger.Warn().Msg("Dry run: document tags will not be written")
	}

	return &services{
		client:     client,
		resolver:   resolver,
		tags:       tags,
		reconciler: rec,
		metrics:    m,
	}, nil
}

// loadMapping reads the override mapping. A missing file means prefix tags
// only.
func (a *App) loadMapping() (map[string]string, error) {
	path := a.config.MappingFile
	if path == "" {
		return nil, nil
	}

	overrides, found, err := mapping.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if !found {
		a.logger.Info().Str("file", path).Msg("No owner mapping file, using prefix tags only")
		return nil, nil
	}
	a.logger.Info().Str("file", path).Int("owners", len(overrides)).Msg("Loaded owner mapping")
	return overrides, nil
}

// serverConfig maps the application configuration onto the listener's.
func (a *App) serverConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Host = a.config.WebhookHost
	cfg.Port = a.config.WebhookPort
	cfg.Secret = a.config.WebhookSecret
	cfg.RateLimit = a.config.WebhookRateLimit
	if a.config.WebhookMaxBody > 0 {
		cfg.MaxBodyBytes = a.config.WebhookMaxBody
	}
	cfg.MetricsEnabled = a.config.MetricsEnabled
	return cfg
}
