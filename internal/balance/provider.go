// Package balance tracks available, used, and total cash plus realized P&L.
//
// Two providers implement the contract: a simulated wallet for paper
// sessions and a live proxy that reads the broker funds endpoint through a
// short TTL cache. Realized P&L attribution is the caller's job (the trade
// executor computes it against cost basis); providers only accumulate it.
package balance

import (
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
)

// Kind selects the direction of a balance update.
type Kind string

const (
	Debit  Kind = "debit"  // reserve cash: available→used
	Credit Kind = "credit" // release cash: used→available
)

// Provider is the balance contract shared by paper and live wallets.
// The invariant total == available + used holds after every update.
type Provider interface {
	Available() money.Money
	Used() money.Money
	Total() money.Money
	RealizedPnL() money.Money

	// Update moves amount between available and used. A debit larger than
	// the available balance is rejected with types.ErrInsufficientBalance.
	Update(amount money.Money, kind Kind) error

	// AddRealizedPnL accumulates a closed-trade delta computed by the caller.
	AddRealizedPnL(amount money.Money)

	// Reset reseeds the wallet, clearing used funds and realized P&L.
	Reset(amount money.Money)
}
