package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	ticketsIssued      prometheus.Counter
	issuanceFailures   *prometheus.CounterVec
	validationOutcomes *prometheus.CounterVec
	rosterWarnings     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		ticketsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Ticket credentials created.",
		}),
		issuanceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_issuance_failures_total",
			Help: "Issuance failures by kind.",
		}, []string{"kind"}),
		validationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_validations_total",
			Help: "Validation attempts by outcome.",
		}, []string{"outcome"}),
		rosterWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_source_warnings_total",
			Help: "Roster sources that were unavailable or empty.",
		}, []string{"source", "reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.ticketsIssued, m.issuanceFailures, m.validationOutcomes, m.rosterWarnings,
	)
	return m
}

func (m *Metrics) TicketsIssued(n int) { m.ticketsIssued.Add(float64(n)) }

func (m *Metrics) IssuanceFailed(kind string) { m.issuanceFailures.WithLabelValues(kind).Inc() }

func (m *Metrics) ValidationOutcome(outcome string) {
	m.validationOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RosterWarning(source, reason string) {
	m.rosterWarnings.WithLabelValues(source, reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records RPS, latency and in-flight requests. The path label is the
// chi route pattern so ticket codes never become label values.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
