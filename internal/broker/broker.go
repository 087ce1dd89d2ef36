// Package broker places orders. The Paper implementation fills against the
// tick cache; the Live implementation talks to the exchange REST API with
// retry and a circuit breaker.
package broker

import (
	"context"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Broker is the uniform market-order surface.
type Broker interface {
	BuyMarket(ctx context.Context, segment, securityID string, qty int) types.OrderResult
	SellMarket(ctx context.Context, segment, securityID string, qty int) types.OrderResult
}

// OrderSpec is the unified order description for PlaceOrder.
type OrderSpec struct {
	Segment    string
	SecurityID string
	Side       types.Side
	Quantity   int
}

// LTPFunc resolves the latest traded price for fills and fallbacks.
type LTPFunc func(segment, securityID string) (money.Money, bool)
