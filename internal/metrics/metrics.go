// Package metrics exposes Prometheus metrics for the HTTP surface and the
// embedding model.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a dedicated registry; every series carries a constant
// service label.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	embeddingsTotal   *prometheus.CounterVec
	embeddingDuration *prometheus.HistogramVec
	encoderInflight   prometheus.Gauge
}

// New registers all collectors under service.
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	m := &Metrics{
		Registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		embeddingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "embeddings_total",
			Help: "Embeddings computed, by input modality and outcome.",
		}, []string{"modality", "outcome"}),
		embeddingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "embedding_duration_seconds",
			Help:    "End-to-end embedding latency including image download.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"modality"}),
		encoderInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encoder_inflight",
			Help: "Encoder calls currently holding a worker slot.",
		}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.embeddingsTotal,
		m.embeddingDuration,
		m.encoderInflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Server returns a standalone HTTP server for /metrics.
func (m *Metrics) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// Middleware records request counts and latencies labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// ObserveEmbedding implements embedding.Observer.
func (m *Metrics) ObserveEmbedding(modality string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.embeddingsTotal.WithLabelValues(modality, outcome).Inc()
	m.embeddingDuration.WithLabelValues(modality).Observe(duration.Seconds())
}

// EncoderInflight implements embedding.Observer.
func (m *Metrics) EncoderInflight(delta int) {
	m.encoderInflight.Add(float64(delta))
}
