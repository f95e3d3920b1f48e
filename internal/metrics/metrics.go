package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations by result code",
		},
		[]string{"operation", "code"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Ledger operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_account_lock_wait_seconds",
			Help:    "Time spent waiting for the per-account lock",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	LockTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_account_lock_timeouts_total",
			Help: "Total number of per-account lock acquisition timeouts",
		},
	)

	OutboxMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_outbox_messages_total",
			Help: "Total number of outbox relay attempts by status",
		},
		[]string{"status"},
	)

	RecoveredClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_recovered_claims_total",
			Help: "Total number of stale idempotency claims resolved by the recovery job",
		},
		[]string{"action"},
	)
)

func RecordOperation(operation, code string, seconds float64) {
	OperationsTotal.WithLabelValues(operation, code).Inc()
	OperationDuration.WithLabelValues(operation).Observe(seconds)
}

func RecordLockWait(seconds float64, timedOut bool) {
	LockWaitDuration.Observe(seconds)
	if timedOut {
		LockTimeoutsTotal.Inc()
	}
}

func RecordOutbox(status string) {
	OutboxMessagesTotal.WithLabelValues(status).Inc()
}

func RecordRecoveredClaim(action string) {
	RecoveredClaimsTotal.WithLabelValues(action).Inc()
}
