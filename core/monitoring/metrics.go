package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports worker metrics for Prometheus scraping.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	modelLoadTime prometheus.Gauge
	modelLoaded   prometheus.Gauge
	queueDepth    prometheus.Gauge
}

// NewMetrics creates a new metrics set on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sam3d_jobs_total",
			Help: "Total jobs processed, by outcome.",
		}, []string{"outcome"}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sam3d_job_duration_seconds",
			Help:    "End-to-end job duration.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		modelLoadTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sam3d_model_load_seconds",
			Help: "Duration of the one-time model load.",
		}),
		modelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sam3d_model_loaded",
			Help: "1 once the model instance is resident on the device.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sam3d_queue_depth",
			Help: "Jobs waiting in the dispatch queue.",
		}),
	}
}

// ObserveJob records one finished job. outcome is "ok" or the failure kind.
func (m *Metrics) ObserveJob(outcome string, d time.Duration) {
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(d.Seconds())
}

// ObserveModelLoad records the cold-start model load.
func (m *Metrics) ObserveModelLoad(d time.Duration) {
	m.modelLoadTime.Set(d.Seconds())
	m.modelLoaded.Set(1)
}

// SetQueueDepth records the current dispatch queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
