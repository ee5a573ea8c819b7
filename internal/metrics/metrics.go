// Package metrics exposes Prometheus metrics for send runs, rendering
// and the HTTP API.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for certmail.
type Metrics struct {
	// Send run metrics
	RunsTotal          prometheus.Counter
	OutcomesTotal      *prometheus.CounterVec
	RunDurationSeconds prometheus.Histogram

	// Render metrics
	RendersTotal          *prometheus.CounterVec
	RenderDurationSeconds prometheus.Histogram

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
}

// New creates a Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certmail_runs_total",
			Help: "Total number of send runs started",
		}),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certmail_send_outcomes_total",
				Help: "Per-recipient send outcomes by status",
			},
			[]string{"status"},
		),
		RunDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "certmail_run_duration_seconds",
			Help:    "Duration of complete send runs",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		RendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certmail_renders_total",
				Help: "Certificate renders by result",
			},
			[]string{"result"},
		),
		RenderDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "certmail_render_duration_seconds",
			Help:    "Duration of single certificate renders",
			Buckets: prometheus.DefBuckets,
		}),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certmail_api_requests_total",
				Help: "Total API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certmail_api_request_duration_seconds",
				Help:    "API request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certmail_uptime_seconds",
			Help: "Seconds since process start",
		}),
		Goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certmail_goroutines",
			Help: "Current number of goroutines",
		}),

		registry:  reg,
		startTime: time.Now(),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.OutcomesTotal,
		m.RunDurationSeconds,
		m.RendersTotal,
		m.RenderDurationSeconds,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// ObserveOutcome counts one per-recipient outcome.
func (m *Metrics) ObserveOutcome(status string) {
	m.OutcomesTotal.WithLabelValues(status).Inc()
}

// ObserveRender records one render attempt.
func (m *Metrics) ObserveRender(d time.Duration, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.RendersTotal.WithLabelValues(result).Inc()
	m.RenderDurationSeconds.Observe(d.Seconds())
}

// ObserveRun records one completed send run.
func (m *Metrics) ObserveRun(d time.Duration) {
	m.RunsTotal.Inc()
	m.RunDurationSeconds.Observe(d.Seconds())
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	m.APIRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.APIRequestDurationSeconds.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler returns the scrape endpoint handler, refreshing the system
// gauges on each scrape.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		m.Goroutines.Set(float64(runtime.NumGoroutine()))
		inner.ServeHTTP(w, r)
	})
}
