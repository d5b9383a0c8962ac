// Package metrics exposes Prometheus collectors for the copy trader.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "copytrader"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Stream
	EventsReceived   *prometheus.CounterVec
	EventsDiscarded  *prometheus.CounterVec
	StreamReconnects *prometheus.CounterVec

	// Decisions
	Skips      *prometheus.CounterVec
	Trades     *prometheus.CounterVec
	TradeTime  *prometheus.HistogramVec
	SellChunks prometheus.Counter

	// State
	OpenPositions   prometheus.Gauge
	BuyingDisabled  prometheus.Gauge
	SchedulerQueue  prometheus.Gauge
	SchedulerActive prometheus.Gauge
	DataIntegrity   *prometheus.CounterVec
	AlertsDropped   prometheus.Counter
	BlockhashAge    prometheus.Gauge
}

// New registers all collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_received_total",
			Help:      "Transaction notifications received per watched wallet",
		}, []string{"wallet"}),
		EventsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_discarded_total",
			Help:      "Notifications dropped by the classifier, by reason",
		}, []string{"reason"}),
		StreamReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Stream reconnect attempts per watched wallet",
		}, []string{"wallet"}),

		Skips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "skips_total",
			Help:      "Trades vetoed by a gate, by side and reason",
		}, []string{"side", "reason"}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trades_total",
			Help:      "Executed trades by side and outcome",
		}, []string{"side", "outcome"}),
		TradeTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trade_duration_seconds",
			Help:      "Wall time from spawn to result",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"side"}),
		SellChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "sell_chunks_total",
			Help:      "Chunks submitted by chunked sells",
		}),

		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "open_positions",
			Help:      "Positions currently tracked in the ledger",
		}),
		BuyingDisabled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buying_disabled",
			Help:      "1 when buys are disabled after insufficient funds",
		}),
		SchedulerQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_length",
			Help:      "Tasks waiting for a worker",
		}),
		SchedulerActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "active_workers",
			Help:      "Tasks currently executing",
		}),
		DataIntegrity: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "data_integrity_total",
			Help:      "Ledger anomalies such as negative purchase counters",
		}, []string{"kind"}),
		AlertsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "dropped_total",
			Help:      "Alerts dropped because the dispatch buffer was full",
		}),
		BlockhashAge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blockhash",
			Name:      "age_seconds",
			Help:      "Age of the cached trading blockhash",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventReceived(wallet string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(wallet).Inc()
}

func (m *Metrics) EventDiscarded(reason string) {
	if m == nil {
		return
	}
	m.EventsDiscarded.WithLabelValues(reason).Inc()
}

func (m *Metrics) Reconnect(wallet string) {
	if m == nil {
		return
	}
	m.StreamReconnects.WithLabelValues(wallet).Inc()
}

func (m *Metrics) Skip(side, reason string) {
	if m == nil {
		return
	}
	m.Skips.WithLabelValues(side, reason).Inc()
}

// Trade records an execution outcome and its duration.
func (m *Metrics) Trade(side, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(side, outcome).Inc()
	m.TradeTime.WithLabelValues(side).Observe(took.Seconds())
}

func (m *Metrics) Chunk() {
	if m == nil {
		return
	}
	m.SellChunks.Inc()
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.OpenPositions.Set(float64(n))
}

func (m *Metrics) SetBuyingDisabled(disabled bool) {
	if m == nil {
		return
	}
	v := 0.0
	if disabled {
		v = 1
	}
	m.BuyingDisabled.Set(v)
}

func (m *Metrics) SetScheduler(queue, active int) {
	if m == nil {
		return
	}
	m.SchedulerQueue.Set(float64(queue))
	m.SchedulerActive.Set(float64(active))
}

func (m *Metrics) Anomaly(kind string) {
	if m == nil {
		return
	}
	m.DataIntegrity.WithLabelValues(kind).Inc()
}

func (m *Metrics) AlertDropped() {
	if m == nil {
		return
	}
	m.AlertsDropped.Inc()
}

func (m *Metrics) SetBlockhashAge(age time.Duration) {
	if m == nil {
		return
	}
	m.BlockhashAge.Set(age.Seconds())
}
