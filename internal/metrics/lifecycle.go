package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/starford/examvault/internal/apperr"
)

var (
	lifecycleOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "operations_total",
		Help:      "Count of document lifecycle operations by reason code.",
	}, []string{"operation", "code"})
	lifecycleOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "operation_duration_seconds",
		Help:      "Duration of document lifecycle operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

// ObserveLifecycle records a coordinator operation. Failures are labelled
// with their reason code so denied retrievals can be told apart from faults.
func ObserveLifecycle(operation string, err error, started time.Time) {
	code := "ok"
	if err != nil {
		code = apperr.Code(err)
	}
	lifecycleOperationsTotal.WithLabelValues(operation, code).Inc()
	lifecycleOperationDuration.WithLabelValues(operation, statusOf(err)).Observe(time.Since(started).Seconds())
}
