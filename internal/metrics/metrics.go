// Package metrics exports wallet state to Prometheus.
package metrics

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the wallet's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	balance    prometheus.Gauge
	utxoCount  prometheus.Gauge
	queueOps   *prometheus.CounterVec
	indexer    prometheus.Gauge
	reconnects prometheus.Counter
	broadcasts *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rankwallet_balance_sats",
			Help: "Spendable balance in satoshis according to the utxo cache.",
		}),
		utxoCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rankwallet_utxo_count",
			Help: "Number of cached spendable outputs.",
		}),
		queueOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankwallet_queue_ops_total",
			Help: "Operations executed by the wallet queue.",
		}, []string{"op", "result"}),
		indexer: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rankwallet_indexer_state",
			Help: "Indexer connection state (0 disconnected, 1 connecting, 2 open, 3 subscribed).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankwallet_indexer_reconnects_total",
			Help: "Times the indexer subscription was re-established.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankwallet_broadcasts_total",
			Help: "Transactions submitted to the indexer.",
		}, []string{"kind", "result"}),
	}

	m.registry.MustRegister(m.balance, m.utxoCount, m.queueOps, m.indexer, m.reconnects, m.broadcasts)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQueueDepth exports fn as the queue depth gauge.
func (m *Metrics) ObserveQueueDepth(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rankwallet_queue_depth",
			Help: "Operations waiting in the wallet queue.",
		},
		func() float64 {
			return float64(fn())
		}))
}

// SetBalance records the cache balance and entry count.
func (m *Metrics) SetBalance(balance *big.Int, utxos int) {
	if m == nil {
		return
	}
	f, _ := new(big.Float).SetInt(balance).Float64()
	m.balance.Set(f)
	m.utxoCount.Set(float64(utxos))
}

// QueueOp counts one executed operation.
func (m *Metrics) QueueOp(op string, err error) {
	if m == nil {
		return
	}
	m.queueOps.WithLabelValues(op, result(err)).Inc()
}

// SetIndexerState records the subscriber state.
func (m *Metrics) SetIndexerState(state int) {
	if m == nil {
		return
	}
	m.indexer.Set(float64(state))
}

// Reconnected counts a subscription re-establishment.
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Broadcast counts a broadcast attempt of the given kind (send or vote).
func (m *Metrics) Broadcast(kind string, err error) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
