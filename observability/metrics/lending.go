package metrics

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidity    *prometheus.CounterVec
	events       *prometheus.CounterVec
	poolAssets   *prometheus.GaugeVec
	poolLent     *prometheus.GaugeVec
	oracleErrors *prometheus.CounterVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the lazily-initialised registry for the lending engine.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by market, operation and outcome.",
			}, []string{"market", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fixedlend",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidity: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "auditor",
				Name:      "liquidity_checks_total",
				Help:      "Collateralization checks segmented by check kind and result.",
			}, []string{"check", "result"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Committed events segmented by type.",
			}, []string{"type"}),
			poolAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fixedlend",
				Subsystem: "smart_pool",
				Name:      "total_assets",
				Help:      "Smart pool assets per market in native base units.",
			}, []string{"market"}),
			poolLent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fixedlend",
				Subsystem: "smart_pool",
				Name:      "lent",
				Help:      "Smart pool assets drawn by maturity pools per market.",
			}, []string{"market"}),
			oracleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedlend",
				Subsystem: "oracle",
				Name:      "errors_total",
				Help:      "Price lookups that failed per market.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.liquidity,
			lendingRegistry.events,
			lendingRegistry.poolAssets,
			lendingRegistry.poolLent,
			lendingRegistry.oracleErrors,
		)
	})
	return lendingRegistry
}

func normalizeLabel(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// ObserveOperation records the outcome and latency of an engine request.
func (m *LendingMetrics) ObserveOperation(market, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation)
	m.operations.WithLabelValues(normalizeLabel(strings.ToUpper(market)), operation, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveLiquidityCheck counts a collateralization decision.
func (m *LendingMetrics) ObserveLiquidityCheck(check string, passed bool) {
	if m == nil {
		return
	}
	result := "shortfall"
	if passed {
		result = "ok"
	}
	m.liquidity.WithLabelValues(normalizeLabel(check), result).Inc()
}

func (m *LendingMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// SetSmartPool publishes the smart pool balances of a market.
func (m *LendingMetrics) SetSmartPool(market string, totalAssets, lent *big.Int) {
	if m == nil {
		return
	}
	label := normalizeLabel(strings.ToUpper(market))
	m.poolAssets.WithLabelValues(label).Set(toFloat(totalAssets))
	m.poolLent.WithLabelValues(label).Set(toFloat(lent))
}

func (m *LendingMetrics) RecordOracleError(market string) {
	if m == nil {
		return
	}
	m.oracleErrors.WithLabelValues(normalizeLabel(strings.ToUpper(market))).Inc()
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
