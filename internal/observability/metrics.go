// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbsim"

// Metrics holds all Prometheus metrics for the application. Each instance
// owns its registry so several engines can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	BookUpdates    *prometheus.CounterVec
	BookRejects    *prometheus.CounterVec
	FeedReconnects *prometheus.CounterVec

	// Evaluation metrics
	EvalPasses       prometheus.Counter
	EvalDuration     prometheus.Histogram
	PairsEvaluated   prometheus.Counter
	Opportunities    *prometheus.CounterVec
	NetSpreadPercent *prometheus.HistogramVec

	// Execution metrics
	TradesSettled      prometheus.Counter
	TradesAborted      prometheus.Counter
	RealizedPnL        prometheus.Gauge
	PendingTrades      prometheus.Gauge
	ActiveReservations prometheus.Gauge
	Rebalances         prometheus.Counter

	// Persistence metrics
	PersistQueueDepth prometheus.Gauge
	PersistDropped    prometheus.Counter
	PersistErrors     *prometheus.CounterVec
	PublishErrors     prometheus.Counter
}

// NewMetrics creates a Metrics instance with every metric registered on a
// fresh registry, plus the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BookUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "book_updates_total",
			Help:      "Book updates applied to the store by exchange",
		}, []string{"exchange"}),
		BookRejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "book_rejects_total",
			Help:      "Book updates rejected by the store by exchange",
		}, []string{"exchange"}),
		FeedReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Feed connection faults followed by a reconnect",
		}, []string{"feed"}),

		EvalPasses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "eval_passes_total",
			Help:      "Evaluation passes run by the scheduler",
		}),
		EvalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "eval_pass_duration_seconds",
			Help:      "Duration of one evaluation pass",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		PairsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pairs_evaluated_total",
			Help:      "Exchange pairs priced",
		}),
		Opportunities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "opportunities_total",
			Help:      "Recorded opportunities by status and reason",
		}, []string{"status", "reason"}),
		NetSpreadPercent: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "net_spread_percent",
			Help:      "Net spread of recorded opportunities",
			Buckets:   []float64{-1, -0.5, -0.1, 0, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"symbol"}),

		TradesSettled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_settled_total",
			Help:      "Simulated trades settled against inventory",
		}),
		TradesAborted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_aborted_total",
			Help:      "Accepted opportunities that failed to settle",
		}),
		RealizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "realized_pnl",
			Help:      "Cumulative realized P&L in quote units",
		}),
		PendingTrades: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "pending_trades",
			Help:      "Trades waiting on leg timers",
		}),
		ActiveReservations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "active_reservations",
			Help:      "Reservations held in the ledger",
		}),
		Rebalances: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "rebalances_total",
			Help:      "Rebalance passes run",
		}),

		PersistQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "queue_depth",
			Help:      "Records waiting in the persistence queue",
		}),
		PersistDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "dropped_total",
			Help:      "Records dropped because the persistence queue was full",
		}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "errors_total",
			Help:      "Sink write failures by sink",
		}, []string{"sink"}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "publish_errors_total",
			Help:      "Failed publishes on the update channel",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
