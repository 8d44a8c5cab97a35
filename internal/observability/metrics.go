package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"marketplace/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry with HTTP, domain and job collectors.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	settlements     *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	debitsRejected  *prometheus.CounterVec
	auditMismatches prometheus.Counter
	jobs            *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_settlements_total",
			Help: "Task settlement attempts by outcome.",
		}, []string{"outcome"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_reconciliations_total",
			Help: "Payment callbacks applied by outcome.",
		}, []string{"outcome"}),
		debitsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_debits_rejected_total",
			Help: "Debits refused for insufficient funds by entry kind.",
		}, []string{"kind"}),
		auditMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_ledger_audit_mismatches_total",
			Help: "Accounts whose ledger replay disagreed with the stored balance.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_jobs_total",
			Help: "Background job runs by job and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketplace_job_duration_seconds",
			Help:    "Background job latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.settlements,
		m.reconciliations,
		m.debitsRejected,
		m.auditMismatches,
		m.jobs,
		m.jobDuration,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Server exposes the registry on its own listener, for processes such as the
// worker that have no API router.
func (m *Metrics) Server(addr string) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

// Middleware records every request under its chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Settlement(outcome string) {
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reconciliation(outcome string) {
	m.reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DebitRejected(kind models.EntryKind) {
	m.debitsRejected.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) AuditMismatch() {
	m.auditMismatches.Inc()
}

// JobDone records a finished job run and returns err untouched.
func (m *Metrics) JobDone(job string, start time.Time, err error) error {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.jobs.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
