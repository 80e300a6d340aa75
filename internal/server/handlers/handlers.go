// Package handlers provides the HTTP handlers of the webhook listener.
package handlers

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/ownertag/internal/metrics"
)

// Queue accepts document ids for asynchronous reconciliation.
type Queue interface {
	Submit(id int) (bool, error)
	Running() bool
	Len() int
}

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	queue     Queue
	metrics   *metrics.Metrics
	logger    *zerolog.Logger
	maxBody   int64
	startTime time.Time
}

// New creates a new Handlers instance. m may be nil.
func New(queue Queue, m *metrics.Metrics, logger *zerolog.Logger, maxBody int64) *Handlers {
	return &Handlers{
		queue:     queue,
		metrics:   m,
		logger:    logger,
		maxBody:   maxBody,
		startTime: time.Now(),
	}
}
