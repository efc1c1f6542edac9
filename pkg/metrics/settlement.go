package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks payment settlement outcomes.
type SettlementMetrics struct {
	outcomes  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	guardHits prometheus.Counter
	lowStock  prometheus.Counter
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_outcomes_total",
		Help:      "Settlement attempts by operation and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Duration of settlement operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	guardHits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_guard_rejections_total",
		Help:      "Confirmations rejected because the token was already in flight.",
	})
	lowStock := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "low_stock_alerts_total",
		Help:      "Low-stock alerts published after settlement.",
	})
	reg.MustRegister(outcomes, duration, guardHits, lowStock)
	return &SettlementMetrics{
		outcomes:  outcomes,
		duration:  duration,
		guardHits: guardHits,
		lowStock:  lowStock,
	}
}

// Observe records the outcome and latency of one operation.
func (m *SettlementMetrics) Observe(operation, outcome string, duration time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

func (m *SettlementMetrics) IncGuardRejection() {
	if m == nil || m.guardHits == nil {
		return
	}
	m.guardHits.Inc()
}

func (m *SettlementMetrics) IncLowStockAlert() {
	if m == nil || m.lowStock == nil {
		return
	}
	m.lowStock.Inc()
}
