// Package metrics provides Prometheus metrics for feeds, evaluation and persistence.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbscope"

// Evaluation results.
const (
	ResultSample       = "sample"
	ResultInsufficient = "insufficient_quotes"
	ResultNoPair       = "no_eligible_pair"
)

type Metrics struct {
	FeedState          *prometheus.GaugeVec
	FeedReconnects     *prometheus.CounterVec
	FeedErrors         *prometheus.CounterVec
	QuoteUpdates       *prometheus.CounterVec
	TimestampFallbacks *prometheus.CounterVec
	Evaluations        *prometheus.CounterVec
	NetProfit          *prometheus.GaugeVec
	WalletValue        prometheus.Gauge
	Snapshots          *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		FeedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_state",
			Help:      "Current feed state (0 connecting, 1 streaming, 2 reconnecting, 3 closed).",
		}, []string{"exchange"}),
		FeedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Reconnect attempts per exchange feed.",
		}, []string{"exchange"}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_errors_total",
			Help:      "Transient feed errors per exchange.",
		}, []string{"exchange"}),
		QuoteUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_updates_total",
			Help:      "Quote updates written to the store.",
		}, []string{"exchange", "symbol"}),
		TimestampFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_timestamp_fallbacks_total",
			Help:      "Quotes stamped with local receipt time because the exchange gave none.",
		}, []string{"exchange", "symbol"}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Arbitrage evaluations per symbol by result.",
		}, []string{"symbol", "result"}),
		NetProfit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "net_profit",
			Help:      "Net profit of the latest sample per symbol.",
		}, []string{"symbol"}),
		WalletValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_value",
			Help:      "Cumulative simulated wallet value.",
		}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Ledger snapshot exports by outcome.",
		}, []string{"outcome"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.FeedState,
		m.FeedReconnects,
		m.FeedErrors,
		m.QuoteUpdates,
		m.TimestampFallbacks,
		m.Evaluations,
		m.NetProfit,
		m.WalletValue,
		m.Snapshots,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
