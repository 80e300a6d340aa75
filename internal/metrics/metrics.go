// Package metrics exposes ownertag's Prometheus instruments on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentstation/ownertag/pkg/errors"
)

const namespace = "ownertag"

// Metrics holds every instrument. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	reconcileTotal    *prometheus.CounterVec
	reconcileErrors   *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	tagsCreated       prometheus.Counter
	sweepDocuments    *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	queueDepth        prometheus.Gauge
	webhookRequests   *prometheus.CounterVec
}

// New creates the instruments and registers them, with the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_total",
				Help:      "Finished reconciliations by outcome.",
			},
			[]string{"status"},
		),
		reconcileErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_errors_total",
				Help:      "Failed reconciliations by error kind.",
			},
			[]string{"kind"},
		),
		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Time to reconcile one document, including service calls.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		tagsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tags_created_total",
				Help:      "Owner-tags created in the document service.",
			},
		),
		sweepDocuments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "documents_total",
				Help:      "Documents visited by full sweeps by outcome.",
			},
			[]string{"status"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "duration_seconds",
				Help:      "Duration of full sweeps.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Document ids waiting in the webhook queue.",
			},
		),
		webhookRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "requests_total",
				Help:      "Webhook notifications by outcome.",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reconcileTotal,
		m.reconcileErrors,
		m.reconcileDuration,
		m.tagsCreated,
		m.sweepDocuments,
		m.sweepDuration,
		m.queueDepth,
		m.webhookRequests,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReconcile records one reconciliation. status is ignored when err
// is non-nil.
func (m *Metrics) ObserveReconcile(status string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.reconcileTotal.WithLabelValues("error").Inc()
		m.reconcileErrors.WithLabelValues(errors.Kind(err)).Inc()
		return
	}
	m.reconcileTotal.WithLabelValues(status).Inc()
}

// TagCreated counts a created owner-tag.
func (m *Metrics) TagCreated() {
	if m == nil {
		return
	}
	m.tagsCreated.Inc()
}

// SweepDocument counts one document visited by a sweep.
func (m *Metrics) SweepDocument(status string) {
	if m == nil {
		return
	}
	m.sweepDocuments.WithLabelValues(status).Inc()
}

// ObserveSweep records the duration of a finished sweep.
func (m *Metrics) ObserveSweep(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(elapsed.Seconds())
}

// SetQueueDepth records the number of pending webhook ids.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// WebhookRequest counts a webhook notification by outcome.
func (m *Metrics) WebhookRequest(status string) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(status).Inc()
}
