// Package metrics exposes Prometheus counters for the signup protocol.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Signup steps used as the "step" label
const (
	StepInitiate = "initiate"
	StepConfirm  = "confirm"
	StepResend   = "resend"
	StepLogin    = "login"
)

// Metrics holds the application collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	signupOutcomes    *prometheus.CounterVec
	licensesConsumed  prometheus.Counter
	emailDeliveries   *prometheus.CounterVec
	expiredRowsPurged *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signupOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agricure",
			Name:      "signup_outcomes_total",
			Help:      "Signup and login steps by outcome; outcome is \"ok\" or an error kind.",
		}, []string{"step", "outcome"}),
		licensesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agricure",
			Name:      "license_keys_consumed_total",
			Help:      "License keys consumed by confirmed signups.",
		}),
		emailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agricure",
			Name:      "verification_emails_total",
			Help:      "Verification code deliveries by result.",
		}, []string{"result"}),
		expiredRowsPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agricure",
			Name:      "expired_rows_purged_total",
			Help:      "Rows removed by the background sweeper.",
		}, []string{"table"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.signupOutcomes,
		m.licensesConsumed,
		m.emailDeliveries,
		m.expiredRowsPurged,
	)

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveStep(step, outcome string) {
	if m == nil {
		return
	}
	m.signupOutcomes.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) LicenseConsumed() {
	if m == nil {
		return
	}
	m.licensesConsumed.Inc()
}

func (m *Metrics) EmailDelivery(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.emailDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) RowsPurged(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredRowsPurged.WithLabelValues(table).Add(float64(n))
}
