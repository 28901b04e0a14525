// ABOUTME: Prometheus collectors for authentication, registration and admin API token lookups
// ABOUTME: Also instruments the HTTP router with in-flight, request and duration metrics

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shopware_app_server"

// Registration outcomes.
const (
	OutcomeRegistered = "registered"
	OutcomeConfirmed  = "confirmed"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
)

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	auth          *prometheus.CounterVec
	registrations *prometheus.CounterVec
	accessTokens  *prometheus.CounterVec
	events        *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_total",
			Help:      "Signed request authentications by resulting role.",
		}, []string{"role"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Shop registration and confirmation attempts by outcome.",
		}, []string{"outcome"}),
		accessTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_token_requests_total",
			Help:      "Admin API access token lookups by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by result.",
		}, []string{"result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "route"}),
	}

	m.Registry.MustRegister(
		m.auth,
		m.registrations,
		m.accessTokens,
		m.events,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveAuth counts one authentication outcome.
func (m *Metrics) ObserveAuth(role string) {
	m.auth.WithLabelValues(role).Inc()
}

// ObserveRegistration counts one registration or confirmation outcome.
func (m *Metrics) ObserveRegistration(outcome string) {
	m.registrations.WithLabelValues(outcome).Inc()
}

// ObserveAccessToken counts one access token lookup.
func (m *Metrics) ObserveAccessToken(result string) {
	m.accessTokens.WithLabelValues(result).Inc()
}

// ObserveEvent counts one webhook delivery: dispatched, duplicate or failed.
func (m *Metrics) ObserveEvent(result string) {
	m.events.WithLabelValues(result).Inc()
}

// InstrumentHandler wraps next with HTTP metrics. Requests to skipPath are not counted.
func (m *Metrics) InstrumentHandler(skipPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPath != "" && r.URL.Path == skipPath {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()

			next.ServeHTTP(rec, r)

			route := routePattern(r)
			method := strings.ToUpper(r.Method)
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern returns the matched chi route, keeping shop ids and app keys
// out of label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
