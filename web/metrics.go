package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exposed on /metrics.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	attempts    *prometheus.CounterVec
	redemptions *prometheus.CounterVec

	handler http.Handler
}

// NewMetrics registers the collectors with reg. If reg is nil a new registry is
// used, so that more than one server can exist in a process.
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relme_auth_http_requests_total",
			Help: "Number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relme_auth_http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relme_auth_attempts_total",
			Help: "Authentication attempts by stage and outcome.",
		}, []string{"stage", "outcome"}),

		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relme_auth_redemptions_total",
			Help: "Token redemptions by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration, m.attempts, m.redemptions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m, nil
}

func (m *Metrics) attempt(stage string, err error) {
	m.attempts.WithLabelValues(stage, outcome(err)).Inc()
}

func (m *Metrics) redemption(err error) {
	m.redemptions.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// instrument records the count and latency of requests, labelled by the
// matched route pattern so that tokens and usernames do not become labels.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		method := strings.ToUpper(r.Method)
		m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}
