package reconciler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/errors"
)

// Observer is told about every finished reconciliation.
type Observer func(res *Result, err error, elapsed time.Duration)

// options holds reconciler configuration.
type options struct {
	timeout  time.Duration
	dryRun   bool
	logger   *zerolog.Logger
	observer Observer
}

// Option configures a Reconciler.
type Option func(*options) error

func defaultOptions() *options {
	return &options{
		timeout: constants.DefaultHTTPTimeout,
	}
}

func newOptions(opts ...Option) (*options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithTimeout bounds each ReconcileID call, including every service request
// it makes. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.NewValidationError("timeout", d, "must not be negative")
		}
		o.timeout = d
		return nil
	}
}

// WithDryRun computes deltas without writing them.
func WithDryRun(enabled bool) Option {
	return func(o *options) error {
		o.dryRun = enabled
		return nil
	}
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithObserver registers a callback for finished reconciliations.
func WithObserver(fn Observer) Option {
	return func(o *options) error {
		o.observer = fn
		return nil
	}
}
