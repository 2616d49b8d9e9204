package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger core.
type Metrics struct {
	AccountsCreated      prometheus.Counter
	PoolsCreated         prometheus.Counter
	ClaimsTotal          prometheus.Counter
	ClaimFailures        *prometheus.CounterVec
	WithdrawalsCreated   prometheus.Counter
	WithdrawalsCompleted prometheus.Counter
	WithdrawalsFailed    prometheus.Counter
	WithdrawalsCancelled prometheus.Counter
	MergesCompleted      prometheus.Counter
	ProcessingQueueDepth prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		AccountsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redpocket_accounts_created_total",
			Help: "Total number of canonical accounts created",
		}),
		PoolsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redpocket_pools_created_total",
			Help: "Total number of distribution pools created",
		}),
		ClaimsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redpocket_claims_total",
			Help: "Total number of successful pool claims",
		}),
		ClaimFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redpocket_claim_failures_total",
			Help: "Claim failures by reason",
		}, []string{"reason"}),
		WithdrawalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redpocket_withdrawals_created_total",
			Help: "Total number of withdrawal requests created",
		}),
		WithdrawalsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redpocket_withdrawals_completed_total",
			Help: "Total number of withdrawals that reached Completed",
		}),
		WithdrawalsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redpocket_withdrawals_failed_total",
			Help: "Total number of withdrawals that reached Failed (refunded)",
		}),
		WithdrawalsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redpocket_withdrawals_cancelled_total",
			Help: "Total number of withdrawals cancelled while Pending",
		}),
		MergesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redpocket_merges_completed_total",
			Help: "Total number of completed account merges",
		}),
		ProcessingQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "redpocket_withdrawal_queue_depth",
			Help: "Current depth of the withdrawal processing queue",
		}),
	}
}
