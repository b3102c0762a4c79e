// Package metrics exposes acquisition counters and timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/series-acquisition/internal/series"
)

// PrometheusRecorder implements series.Recorder on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	acquisitionDuration *prometheus.HistogramVec
	acquisitions        *prometheus.CounterVec
	ingestionAttempts   *prometheus.CounterVec
	fetched             *prometheus.CounterVec
	persisted           *prometheus.CounterVec
	multipleGenerations *prometheus.CounterVec
}

var _ series.Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates a recorder with Go and process collectors
// already registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		acquisitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "series_acquisition_duration_seconds",
			Help:    "Duration of series acquisitions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source", "series", "outcome"}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "series_acquisitions_total",
			Help: "Total series acquisitions by outcome.",
		}, []string{"source", "series", "outcome"}),
		ingestionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "series_ingestion_attempts_total",
			Help: "Adapter fetch attempts by outcome.",
		}, []string{"source", "adapter", "outcome"}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "series_observations_fetched_total",
			Help: "Observations returned by adapters inside the requested window.",
		}, []string{"source"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "series_observations_persisted_total",
			Help: "Observations newly written to the store.",
		}, []string{"source"}),
		multipleGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "series_multiple_generations_total",
			Help: "Cached results holding more than one generation for a verified time.",
		}, []string{"source", "series"}),
	}

	registry.MustRegister(r.acquisitionDuration)
	registry.MustRegister(r.acquisitions)
	registry.MustRegister(r.ingestionAttempts)
	registry.MustRegister(r.fetched)
	registry.MustRegister(r.persisted)
	registry.MustRegister(r.multipleGenerations)

	return r
}

// Registry returns the Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) AcquisitionFinished(source, seriesCode, outcome string, d time.Duration) {
	r.acquisitions.WithLabelValues(source, seriesCode, outcome).Inc()
	r.acquisitionDuration.WithLabelValues(source, seriesCode, outcome).Observe(d.Seconds())
}

func (r *PrometheusRecorder) IngestionAttempt(source, adapter, outcome string) {
	r.ingestionAttempts.WithLabelValues(source, adapter, outcome).Inc()
}

func (r *PrometheusRecorder) ObservationsFetched(source string, fetched, persisted int) {
	r.fetched.WithLabelValues(source).Add(float64(fetched))
	r.persisted.WithLabelValues(source).Add(float64(persisted))
}

func (r *PrometheusRecorder) MultipleGenerations(source, seriesCode string) {
	r.multipleGenerations.WithLabelValues(source, seriesCode).Inc()
}
