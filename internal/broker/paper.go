package broker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Paper fills every market order instantly at the cached last traded price.
// An instrument with no cached price cannot be filled and is rejected with
// types.ErrInvalidPrice.
type Paper struct {
	ltp    LTPFunc
	logger *slog.Logger
	fills  atomic.Int64
}

var _ Broker = (*Paper)(nil)

// NewPaper creates a simulated broker over the given price source.
func NewPaper(ltp LTPFunc, logger *slog.Logger) *Paper {
	return &Paper{ltp: ltp, logger: logger.With("component", "paper_broker")}
}

func (p *Paper) BuyMarket(ctx context.Context, segment, securityID string, qty int) types.OrderResult {
	return p.fill(ctx, OrderSpec{Segment: segment, SecurityID: securityID, Side: types.BUY, Quantity: qty})
}

func (p *Paper) SellMarket(ctx context.Context, segment, securityID string, qty int) types.OrderResult {
	return p.fill(ctx, OrderSpec{Segment: segment, SecurityID: securityID, Side: types.SELL, Quantity: qty})
}

// PlaceOrder is the unified entry point.
func (p *Paper) PlaceOrder(ctx context.Context, spec OrderSpec) types.OrderResult {
	return p.fill(ctx, spec)
}

func (p *Paper) fill(_ context.Context, spec OrderSpec) types.OrderResult {
	price, ok := p.ltp(spec.Segment, spec.SecurityID)
	if !ok || !price.IsPositive() {
		p.logger.Warn("no price for simulated fill",
			"segment", spec.Segment, "security_id", spec.SecurityID)
		return types.OrderResult{Err: types.ErrInvalidPrice}
	}

	p.fills.Add(1)
	oid := "PAPER-" + uuid.NewString()
	p.logger.Debug("simulated fill",
		"order_id", oid, "side", spec.Side, "security_id", spec.SecurityID,
		"qty", spec.Quantity, "price", price)
	return types.OrderResult{OK: true, OrderID: oid, FilledPrice: price, FilledQty: spec.Quantity}
}

// Fills returns the number of simulated fills, for diagnostics.
func (p *Paper) Fills() int64 { return p.fills.Load() }
