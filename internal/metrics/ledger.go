// Package metrics exposes Prometheus instrumentation for the ledger and the
// document lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "examvault"

var (
	ledgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Count of ledger operations.",
	}, []string{"operation", "status"})
	ledgerOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "operation_duration_seconds",
		Help:      "Duration of ledger operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
	miningAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "mining_attempts",
		Help:      "Nonces tried before a block met the difficulty target.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})
	appendConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "append_conflicts_total",
		Help:      "Appends that lost the race for the next index and retried.",
	})
	chainValid = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "chain_valid",
		Help:      "1 if the last verification passed, 0 otherwise.",
	})
)

// ObserveLedger records the outcome and latency of a ledger operation.
func ObserveLedger(operation string, err error, started time.Time) {
	status := statusOf(err)
	ledgerOperationsTotal.WithLabelValues(operation, status).Inc()
	ledgerOperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// ObserveMining records how many nonces a successful mine took.
func ObserveMining(nonce uint64) {
	miningAttempts.Observe(float64(nonce))
}

// IncAppendConflict counts a lost append race.
func IncAppendConflict() {
	appendConflictsTotal.Inc()
}

// SetChainValid publishes the latest verification verdict.
func SetChainValid(valid bool) {
	if valid {
		chainValid.Set(1)
		return
	}
	chainValid.Set(0)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
