package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the coordinator's operational counters.
type Metrics struct {
	registry *prometheus.Registry

	OrdersAdmitted   prometheus.Counter
	AdmissionsFailed *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	Reveals          *prometheus.CounterVec
	ReaperEvents     *prometheus.CounterVec
	OrdersByStatus   *prometheus.GaugeVec
}

// New builds and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		OrdersAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "orders_admitted_total",
			Help:      "Orders accepted into the lifecycle state machine.",
		}),
		AdmissionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "admissions_failed_total",
			Help:      "Rejected order submissions by reason.",
		}, []string{"reason"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "state_transitions_total",
			Help:      "Order status transitions.",
		}, []string{"from", "to"}),
		Reveals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "secret_reveals_total",
			Help:      "On-chain secret reveals by outcome.",
		}, []string{"outcome"}),
		ReaperEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "reaper_events_total",
			Help:      "Deadline events emitted by the reaper.",
		}, []string{"type"}),
		OrdersByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coordinator",
			Name:      "orders_by_status",
			Help:      "Current order count per status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.OrdersAdmitted, m.AdmissionsFailed, m.Transitions,
		m.Reveals, m.ReaperEvents, m.OrdersByStatus)
	return m
}

// Handler exposes the registry for the control plane's /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
