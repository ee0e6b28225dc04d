package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WithdrawalsCreated counts withdrawal requests accepted into the pending state
var WithdrawalsCreated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "payouts_withdrawals_created_total",
		Help: "Total number of withdrawal requests created",
	},
)

// WithdrawalsRejectedAtCreate counts creation attempts refused by a precondition
var WithdrawalsRejectedAtCreate = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payouts_withdrawals_refused_total",
		Help: "Total number of withdrawal creation attempts refused, by reason",
	},
	[]string{"reason"},
)

// TransitionsApplied counts successful status transitions by target status
var TransitionsApplied = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payouts_transitions_applied_total",
		Help: "Total number of withdrawal status transitions applied",
	},
	[]string{"target"},
)

// TransitionsSkipped counts bulk-transition ids skipped as illegal
var TransitionsSkipped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "payouts_transitions_skipped_total",
		Help: "Total number of bulk transition ids skipped",
	},
)

// WSClients tracks currently connected notification clients
var WSClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "payouts_ws_clients",
		Help: "Number of connected WebSocket clients",
	},
)

func init() {
	prometheus.MustRegister(WithdrawalsCreated, WithdrawalsRejectedAtCreate)
	prometheus.MustRegister(TransitionsApplied, TransitionsSkipped, WSClients)
}
