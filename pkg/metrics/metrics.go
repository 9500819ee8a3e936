package metrics

import (
	"math/big"

	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EscrowMetrics records engine operations and the pooled balance.
type EscrowMetrics struct {
	operations *prometheus.CounterVec
	balance    prometheus.Gauge
	registry   *prometheus.Registry
}

// NewEscrowMetrics registers collectors on a dedicated registry so several
// engines (and tests) do not collide on the default one.
func NewEscrowMetrics() *EscrowMetrics {
	m := &EscrowMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "propertyescrow",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Escrow engine operations segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "propertyescrow",
			Subsystem: "engine",
			Name:      "pooled_balance_wei",
			Help:      "Current pooled balance held by the escrow engine, in wei.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.operations,
		m.balance,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *EscrowMetrics) ObserveOperation(op, outcome string) {
	m.operations.WithLabelValues(op, outcome).Inc()
}

// SetBalance exports the balance as a float; precision loss above 2^53 wei is
// acceptable for a gauge.
func (m *EscrowMetrics) SetBalance(balance *uint256.Int) {
	f, _ := new(big.Float).SetInt(balance.ToBig()).Float64()
	m.balance.Set(f)
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *EscrowMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the Prometheus text format.
func (m *EscrowMetrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
