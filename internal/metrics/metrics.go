package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exports. Each instance owns its
// registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EnrichmentsTotal    *prometheus.CounterVec
	EnrichmentDuration  prometheus.Histogram
	CapabilityFallbacks *prometheus.CounterVec
	ModelTokens         *prometheus.CounterVec

	BacklogSize    prometheus.Gauge
	BatchDuration  prometheus.Histogram
	EmailsIngested *prometheus.CounterVec
	TasksProcessed *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "support_inbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "support_inbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		EnrichmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "support_inbox_enrichments_total",
				Help: "Enrichment attempts by resulting response status",
			},
			[]string{"status"},
		),
		EnrichmentDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "support_inbox_enrichment_duration_seconds",
				Help:    "Time to enrich one email end to end",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40},
			},
		),
		CapabilityFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "support_inbox_capability_fallbacks_total",
				Help: "Times a capability failed and its fallback value was used",
			},
			[]string{"capability"},
		),
		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "support_inbox_model_tokens_total",
				Help: "Provider tokens consumed by capability and direction",
			},
			[]string{"capability", "direction"},
		),

		BacklogSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "support_inbox_backlog_size",
				Help: "Pending emails selected by the last backlog sweep",
			},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "support_inbox_backlog_batch_duration_seconds",
				Help:    "Time for one backlog batch to finish",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		EmailsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "support_inbox_emails_ingested_total",
				Help: "Emails ingested by priority",
			},
			[]string{"priority"},
		),
		TasksProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "support_inbox_tasks_processed_total",
				Help: "Queue tasks handled by the worker",
			},
			[]string{"kind", "outcome"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveEnrichment(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.EnrichmentsTotal.WithLabelValues(status).Inc()
	m.EnrichmentDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) CountFallback(capability string) {
	if m == nil {
		return
	}
	m.CapabilityFallbacks.WithLabelValues(capability).Inc()
}

func (m *Metrics) CountTokens(capability string, input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.ModelTokens.WithLabelValues(capability, "input").Add(float64(input))
	}
	if output > 0 {
		m.ModelTokens.WithLabelValues(capability, "output").Add(float64(output))
	}
}

func (m *Metrics) ObserveBacklog(size int) {
	if m == nil {
		return
	}
	m.BacklogSize.Set(float64(size))
}

func (m *Metrics) ObserveBatch(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) CountIngested(priority string) {
	if m == nil {
		return
	}
	m.EmailsIngested.WithLabelValues(priority).Inc()
}

func (m *Metrics) CountTask(kind, outcome string) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(kind, outcome).Inc()
}
