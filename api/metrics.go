package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsCollector tracks login and token-validation outcomes. Each API
// instance gets its own registry so tests can construct APIs freely without
// duplicate-registration panics.
type metricsCollector struct {
	registry *prometheus.Registry

	loginAttempts    *prometheus.CounterVec
	tokenValidations *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

func newMetricsCollector() *metricsCollector {
	m := &metricsCollector{
		registry: prometheus.NewRegistry(),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blogauth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result (success, failure, rate_limited).",
		}, []string{"result"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blogauth",
			Name:      "token_validations_total",
			Help:      "Token validations by outcome (session, token_only, rejected).",
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blogauth",
			Name:      "active_sessions",
			Help:      "Number of currently tracked sessions.",
		}),
	}
	m.registry.MustRegister(m.loginAttempts, m.tokenValidations, m.activeSessions)
	return m
}

func (m *metricsCollector) recordLogin(result string) {
	m.loginAttempts.WithLabelValues(result).Inc()
}

func (m *metricsCollector) recordValidation(outcome string) {
	m.tokenValidations.WithLabelValues(outcome).Inc()
}

func (m *metricsCollector) setActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// Handler exposes the metrics endpoint for this API instance.
func (m *metricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsHandler returns the Prometheus scrape handler for this API.
func (a *API) MetricsHandler() http.Handler {
	return a.metrics.Handler()
}
