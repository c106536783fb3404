// Package metrics exposes Prometheus collectors for registrations, secret
// checks and liveness. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "silo_config"

type Metrics struct {
	registrations   *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	rotations       *prometheus.CounterVec
	demotions       *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	activeInstances prometheus.Gauge
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Client registrations by outcome.",
		}, []string{"outcome"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_mismatches_total",
			Help:      "Calls rejected because the presented secret did not match.",
		}, []string{"operation"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_rotations_total",
			Help:      "Secret rotation attempts by result.",
		}, []string{"result"}),
		demotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_demotions_total",
			Help:      "Entities marked inactive by the liveness sweep.",
		}, []string{"entity"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_client_sessions",
			Help:      "Client run-sessions currently considered alive.",
		}),
		activeInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_api_instances",
			Help:      "Server instances currently considered alive.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
	}

	collectors := []prometheus.Collector{
		m.registrations, m.authFailures, m.rotations, m.demotions,
		m.activeSessions, m.activeInstances, m.requestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordRegistration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSecretMismatch(operation string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordRotation(result string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDemotions(entity string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.demotions.WithLabelValues(entity).Add(float64(n))
}

func (m *Metrics) SetActive(sessions, instances int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(sessions))
	m.activeInstances.Set(float64(instances))
}

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// Handler serves the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
