package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey int

const loggerKey contextKey = iota

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// Ctx is a shorter alias for FromContext.
func Ctx(ctx context.Context) *zerolog.Logger {
	return FromContext(ctx)
}

// WithDocument adds the document id to the context logger.
func WithDocument(ctx context.Context, documentID int) context.Context {
	logger := FromContext(ctx).With().Int("document_id", documentID).Logger()
	return WithLogger(ctx, &logger)
}

// WithTrigger records which driver (webhook, sweep, cli) started the work.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	logger := FromContext(ctx).With().Str("trigger", trigger).Logger()
	return WithLogger(ctx, &logger)
}
