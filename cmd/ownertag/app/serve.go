package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/ownertag/internal/metrics"
	"github.com/agentstation/ownertag/internal/queue"
	"github.com/agentstation/ownertag/internal/server"
	"github.com/agentstation/ownertag/internal/sweep"
	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/logging"
)

// NewServeCommand creates the serve command.
func (a *App) NewServeCommand() *cobra.Command {
	var (
		mode     string
		host     string
		port     int
		interval time.Duration
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		GroupID: "core",
		Short:   "Run the webhook listener and/or periodic sweeps",
		Long: `Serve keeps owner-tags in step with document owners until stopped.

Modes:
  webhook   listen for document notifications (default)
  schedule  sweep every document now and then every --interval
  hybrid    both, sharing one reconciler`,
		Example: `  ownertag serve
  ownertag serve --mode hybrid --interval 6h
  ownertag serve --mode webhook --port 5000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("mode") {
				a.config.Mode = mode
			}
			if flags.Changed("host") {
				a.config.WebhookHost = host
			}
			if flags.Changed("port") {
				a.config.WebhookPort = port
			}
			if flags.Changed("interval") {
				a.config.SyncInterval = interval
			}
			if flags.Changed("dry-run") {
				a.config.DryRun = dryRun
			}
			return a.runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", constants.DefaultMode, "sync mode: webhook, schedule, hybrid")
	cmd.Flags().StringVar(&host, "host", constants.DefaultWebhookHost, "webhook listen host")
	cmd.Flags().IntVarP(&port, "port", "p", constants.DefaultWebhookPort, "webhook listen port")
	cmd.Flags().DurationVar(&interval, "interval", constants.DefaultSweepInterval, "time between sweeps in schedule and hybrid modes")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log tag changes without writing them")

	return cmd
}

func (a *App) runServe(ctx context.Context) error {
	cfg := a.config
	logger := a.logger

	m := metrics.New()
	svc, err := a.connect(ctx, m)
	if err != nil {
		return err
	}

	logger.Info().
		Str("mode", cfg.Mode).
		Str("prefix", cfg.TagPrefix).
		Int("mapped_owners", len(svc.resolver.Overrides())).
		Msg("Starting ownertag")

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Mode == ModeWebhook || cfg.Mode == ModeHybrid {
		q := queue.New(func(ctx context.Context, id int) error {
			_, err := svc.reconciler.ReconcileID(logging.WithTrigger(ctx, "webhook"), id)
			return err
		},
			queue.WithWorkers(cfg.QueueWorkers),
			queue.WithSize(cfg.QueueSize),
			queue.WithDelay(cfg.WebhookDelay),
			queue.WithLogger(logger),
			queue.WithDepthFunc(m.SetQueueDepth),
		)

		srv, err := server.New(a.serverConfig(), q, m, logger)
		if err != nil {
			return err
		}

		// Queued work outlives the signal so Close can drain it.
		q.Start(context.WithoutCancel(gctx))
		g.Go(func() error {
			return serveUntilDone(gctx, srv, q, logger)
		})
	}

	if cfg.Mode == ModeSchedule || cfg.Mode == ModeHybrid {
		sweeper := sweep.New(svc.client, svc.reconciler,
			sweep.WithConcurrency(cfg.SweepConcurrency),
			sweep.WithLogger(logger),
			sweep.WithMetrics(m),
		)
		g.Go(func() error {
			return sweeper.Run(gctx, cfg.SyncInterval, true)
		})
	}

	return g.Wait()
}

// serveUntilDone runs srv until ctx ends, then stops the listener and drains
// the work queue.
func serveUntilDone(ctx context.Context, srv *server.Server, q *queue.Queue, logger *zerolog.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		closeCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		_ = q.Close(closeCtx)
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := q.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Work queue did not drain before shutdown timeout")
		}

		logger.Info().Msg("Server stopped gracefully")
		return nil
	}
}
