// Package metrics holds the Prometheus metrics exported by the node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// --- Execution ---
	TxsApplied       *prometheus.CounterVec
	TxsRejected      *prometheus.CounterVec
	TradesTotal      prometheus.Counter
	ActiveOrders     prometheus.Gauge
	FinalizeDuration prometheus.Histogram

	// --- Chain ---
	BlockHeight prometheus.Gauge
	BlockTxs    prometheus.Histogram
	MempoolSize prometheus.Gauge

	// --- Outbound ---
	EventsPublished *prometheus.CounterVec
	APIRequests     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics on reg. A nil reg uses a private
// registry, which keeps tests independent.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		TxsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "limitorders_txs_applied_total",
			Help: "Transactions executed successfully",
		}, []string{"type"}),

		TxsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "limitorders_txs_rejected_total",
			Help: "Transactions rejected at execution, by error kind",
		}, []string{"type", "kind"}),

		TradesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "limitorders_trades_total",
			Help: "Trades appended to the trade store",
		}),

		ActiveOrders: f.NewGauge(prometheus.GaugeOpts{
			Name: "limitorders_active_orders",
			Help: "Orders currently holding escrow",
		}),

		FinalizeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "limitorders_finalize_block_seconds",
			Help:    "Time to execute and persist one block",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),

		BlockHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "limitorders_block_height",
			Help: "Last finalized height",
		}),

		BlockTxs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "limitorders_block_txs",
			Help:    "Transactions per finalized block",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		MempoolSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "limitorders_mempool_size",
			Help: "Pending transactions",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "limitorders_events_published_total",
			Help: "Events handed to the event publisher",
		}, []string{"kind", "status"}),

		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "limitorders_api_requests_total",
			Help: "REST requests served",
		}, []string{"route", "code"}),

		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
