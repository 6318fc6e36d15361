// Package metrics exposes prometheus counters for transaction runs and balance syncs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the client's collectors. A nil *Registry is a valid no-op sink.
type Registry struct {
	registry      *prometheus.Registry
	outcomesTotal *prometheus.CounterVec
	refreshTotal  *prometheus.CounterVec
	inFlight      *prometheus.GaugeVec
}

// New creates a registry with all collectors registered.
func New() *Registry {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankdapp_transactions_total",
		Help: "Transaction runs by operation kind and terminal status",
	}, []string{"kind", "status"})

	refresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankdapp_balance_refresh_total",
		Help: "Balance refreshes by result",
	}, []string{"result"})

	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bankdapp_operations_in_flight",
		Help: "Operations currently between estimation and confirmation",
	}, []string{"kind"})

	r := prometheus.NewRegistry()
	r.MustRegister(outcomes, refresh, inFlight)

	return &Registry{
		registry:      r,
		outcomesTotal: outcomes,
		refreshTotal:  refresh,
		inFlight:      inFlight,
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome counts one finished transaction run.
func (m *Registry) ObserveOutcome(kind, status string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(kind, status).Inc()
}

// ObserveRefresh counts one balance refresh.
func (m *Registry) ObserveRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.refreshTotal.WithLabelValues(result).Inc()
}

// AddInFlight moves the in-flight gauge of kind by delta.
func (m *Registry) AddInFlight(kind string, delta float64) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(kind).Add(delta)
}

// OutcomesTotal exposes the outcome counter for inspection.
func (m *Registry) OutcomesTotal() *prometheus.CounterVec {
	return m.outcomesTotal
}

// RefreshTotal exposes the balance refresh counter for inspection.
func (m *Registry) RefreshTotal() *prometheus.CounterVec {
	return m.refreshTotal
}

// InFlight exposes the in-flight gauge for inspection.
func (m *Registry) InFlight() *prometheus.GaugeVec {
	return m.inFlight
}
