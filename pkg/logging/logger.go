// Package logging provides structured logging for ownertag using zerolog.
// Terminals get human-readable console output; everything else (containers,
// systemd, log shippers) gets JSON.
//
//	log := logging.Default()
//	log.Info().Int("document_id", 55).Msg("Reconciling document")
//
//	ctx := logging.WithDocument(ctx, 55)
//	logging.FromContext(ctx).Debug().Msg("Fetched document")
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultLogger is the global logger instance.
var defaultLogger zerolog.Logger

func init() {
	cfg := DefaultConfig()
	cfg.Level = os.Getenv("LOG_LEVEL")
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = format
	}
	defaultLogger = NewLoggerFromConfig(cfg)
}

// Default returns the default global logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault sets the default global logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
	log.Logger = logger
}

// Debug starts a new debug level log event.
func Debug() *zerolog.Event {
	return defaultLogger.Debug()
}

// Info starts a new info level log event.
func Info() *zerolog.Event {
	return defaultLogger.Info()
}

// Warn starts a new warning level log event.
func Warn() *zerolog.Event {
	return defaultLogger.Warn()
}

// Error starts a new error level log event.
func Error() *zerolog.Event {
	return defaultLogger.Error()
}
