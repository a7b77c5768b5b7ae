package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the trader's Prometheus collectors on a private registry.
// All methods are no-ops on a nil receiver so components can run without it.
type Metrics struct {
	registry *prometheus.Registry

	orders          *prometheus.CounterVec
	exits           *prometheus.CounterVec
	pyramids        prometheus.Counter
	inconsistencies *prometheus.CounterVec
	cycleErrors     prometheus.Counter
	cycleDuration   prometheus.Histogram
	openPositions   prometheus.Gauge
	wsConnected     prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_orders_total",
				Help: "Order attempts by side and terminal status",
			},
			[]string{"side", "status"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_exits_total",
				Help: "Exit decisions by exit type",
			},
			[]string{"type"},
		),
		pyramids: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_pyramids_total",
			Help: "Pyramid add-ons triggered",
		}),
		inconsistencies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_ledger_inconsistencies_total",
				Help: "Ledger vs exchange mismatches beyond tolerance",
			},
			[]string{"reason"},
		),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_cycle_errors_total",
			Help: "Per-position errors raised during evaluation cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Duration of one evaluation pass",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Open positions seen in the last cycle",
		}),
		wsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_ws_connected",
			Help: "1 when the price feed WebSocket is connected",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.orders, m.exits, m.pyramids, m.inconsistencies,
		m.cycleErrors, m.cycleDuration, m.openPositions, m.wsConnected,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOrder counts an order outcome.
func (m *Metrics) RecordOrder(side, status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side, status).Inc()
}

// RecordExit counts an exit decision.
func (m *Metrics) RecordExit(exitType string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(exitType).Inc()
}

// RecordPyramid counts a triggered pyramid add-on.
func (m *Metrics) RecordPyramid() {
	if m == nil {
		return
	}
	m.pyramids.Inc()
}

// RecordInconsistency counts a reconciliation mismatch.
func (m *Metrics) RecordInconsistency(reason string) {
	if m == nil {
		return
	}
	m.inconsistencies.WithLabelValues(reason).Inc()
}

// RecordCycle observes one evaluation pass.
func (m *Metrics) RecordCycle(d time.Duration, errs int, open int) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.cycleErrors.Add(float64(errs))
	m.openPositions.Set(float64(open))
}

// SetConnected reports the price feed connection state.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.wsConnected.Set(1)
	} else {
		m.wsConnected.Set(0)
	}
}

// InconsistencyCounter exposes the mismatch counter for one reason.
func (m *Metrics) InconsistencyCounter(reason string) prometheus.Counter {
	return m.inconsistencies.WithLabelValues(reason)
}

// ExitCounter exposes the exit counter for one exit type.
func (m *Metrics) ExitCounter(exitType string) prometheus.Counter {
	return m.exits.WithLabelValues(exitType)
}
