// Package sweep reconciles every document in the catalogue, once or on an
// interval. It is the safety net for missed or failed notifications.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/ownertag/internal/metrics"
	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
	"github.com/agentstation/ownertag/pkg/reconciler"
)

// Lister enumerates document ids.
type Lister interface {
	ListDocumentIDs(ctx context.Context) ([]int, error)
}

// Reconciler reconciles one document by id.
type Reconciler interface {
	ReconcileID(ctx context.Context, id int) (*reconciler.Result, error)
}

// Stats summarises one sweep.
type Stats struct {
	Total     int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// MarshalZerologObject lets Stats be logged with Object or EmbedObject.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int("total", s.Total).
		Int("updated", s.Updated).
		Int("unchanged", s.Unchanged).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Dur("duration", s.Duration)
}

// Sweeper runs full sweeps.
type Sweeper struct {
	lister      Lister
	rec         Reconciler
	concurrency int
	timeout     time.Duration
	logger      *zerolog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithConcurrency bounds how many documents are reconciled at once.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithTimeout bounds each sweep started by Run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the sweep logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records per-document outcomes and sweep durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// New creates a Sweeper.
func New(lister Lister, rec Reconciler, opts ...Option) *Sweeper {
	s := &Sweeper{
		lister:      lister,
		rec:         rec,
		concurrency: constants.DefaultSweepConcurrency,
		timeout:     constants.SweepTimeout,
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep reconciles every document once. A failing document is counted and
// logged; only a listing failure or ctx ending stops the sweep early.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	ctx = logging.WithTrigger(logging.WithLogger(ctx, s.logger), "sweep")
	logger := logging.FromContext(ctx)
	start := time.Now()

	ids, err := s.lister.ListDocumentIDs(ctx)
	if err != nil {
		return Stats{Duration: time.Since(start)}, err
	}
	logger.Info().Int("documents", len(ids)).Msg("Starting sweep")

	var (
		mu    sync.Mutex
		stats = Stats{Total: len(ids)}
	)
	record := func(status string) {
		mu.Lock()
		defer mu.Unlock()
		switch status {
		case string(reconciler.StatusUpdated):
			stats.Updated++
		case string(reconciler.StatusUnchanged):
			stats.Unchanged++
		case string(reconciler.StatusSkipped):
			stats.Skipped++
		default:
			stats.Failed++
		}
		s.metrics.SweepDocument(status)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.rec.ReconcileID(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Error().
					Err(err).
					Int("document_id", id).
					Str("kind", errors.Kind(err)).
					Msg("Failed to reconcile document")
				record("failed")
				return nil
			}
			record(string(res.Status))
			return nil
		})
	}
	err = g.Wait()

	stats.Duration = time.Since(start)
	s.metrics.ObserveSweep(stats.Duration)

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		logger.Warn().Err(err).EmbedObject(stats).Msg("Sweep interrupted")
		return stats, err
	}
	logger.Info().EmbedObject(stats).Msg("Sweep complete")
	return stats, nil
}

// Run sweeps every interval until ctx ends. With immediate set the first
// sweep starts at once. Sweeps never overlap; a failed sweep is logged and
// the next one runs on schedule.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, immediate bool) error {
	if interval <= 0 {
		return errors.NewValidationError("interval", interval, "must be positive")
	}

	logger := s.logger
	logger.Info().Dur("interval", interval).Bool("immediate", immediate).Msg("Periodic sweeps enabled")

	if immediate {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Periodic sweeps stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.Sweep(sweepCtx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Str("kind", errors.Kind(err)).Msg("Sweep failed")
	}
}
