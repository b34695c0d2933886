package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "breaktime"

// Metrics holds the Prometheus collectors for one server.
type Metrics struct {
	registry *prometheus.Registry

	started   *prometheus.CounterVec
	stopped   *prometheus.CounterVec
	conflicts prometheus.Counter
	overtime  *prometheus.HistogramVec

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// NewMetrics builds collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "activity",
			Name:      "started_total",
			Help:      "Activities started.",
		}, []string{"activity"}),
		stopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "activity",
			Name:      "stopped_total",
			Help:      "Activities stopped.",
		}, []string{"activity"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "activity",
			Name:      "start_conflicts_total",
			Help:      "Start requests rejected because an activity was ongoing.",
		}),
		overtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "activity",
			Name:      "overtime_seconds",
			Help:      "Overtime of stopped activities.",
			Buckets:   []float64{0, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"activity"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests.",
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		m.started, m.stopped, m.conflicts, m.overtime,
		m.requestDuration, m.requestTotal,
	)
	return m
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) activityStarted(activity string) {
	m.started.WithLabelValues(activity).Inc()
}

func (m *Metrics) startConflict() {
	m.conflicts.Inc()
}

func (m *Metrics) activityStopped(activity string, overtime int64) {
	m.stopped.WithLabelValues(activity).Inc()
	m.overtime.WithLabelValues(activity).Observe(float64(overtime))
}

// instrument records request count and latency labeled by
// route pattern.
func (m *Metrics) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).
			Observe(time.Since(start).Seconds())
	})
}
