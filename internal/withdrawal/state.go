package withdrawal

import (
	"github.com/vendora/payouts/pkg/models"
)

// transitions is the closed edge table for withdrawal statuses. Anything not
// listed here is illegal, including re-entering the current status. Terminal
// states have no outgoing edges.
var transitions = map[models.WithdrawalStatus][]models.WithdrawalStatus{
	models.WithdrawalPending:    {models.WithdrawalProcessing, models.WithdrawalApproved, models.WithdrawalRejected},
	models.WithdrawalProcessing: {models.WithdrawalApproved, models.WithdrawalRejected},
	models.WithdrawalApproved:   {models.WithdrawalCompleted},
	models.WithdrawalRejected:   {},
	models.WithdrawalCompleted:  {},
}

// CanTransition reports whether from -> to is an edge in the table.
func CanTransition(from, to models.WithdrawalStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the statuses reachable from the given one.
func NextStates(from models.WithdrawalStatus) []models.WithdrawalStatus {
	return transitions[from]
}
