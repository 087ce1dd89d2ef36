package instruments

import (
	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
)

// Sizer converts available cash into a lot count:
//
//	lots = floor(available·allocation_pct / (premium·(1+slippage)·lot_size))
//
// clamped by the per-trade cap and the per-symbol quantity multiplier.
type Sizer struct {
	AllocationPct     float64
	SlippageBufferPct float64
	MaxLotsPerTrade   int
}

// Lots returns the lot count for one entry. Zero means "do not trade":
// premium or balance not positive, or lot size missing.
func (s Sizer) Lots(available, premium money.Money, lotSize, qtyCap int) int {
	if !available.IsPositive() || !premium.IsPositive() || lotSize <= 0 {
		return 0
	}

	alloc := available.Decimal().Mul(decimal.NewFromFloat(s.AllocationPct))
	adjPrem := premium.Decimal().Mul(decimal.NewFromFloat(1 + s.SlippageBufferPct))
	perLot := adjPrem.Mul(decimal.NewFromInt(int64(lotSize)))
	if !perLot.IsPositive() {
		return 0
	}

	lots := int(alloc.Div(perLot).IntPart())
	if s.MaxLotsPerTrade > 0 && lots > s.MaxLotsPerTrade {
		lots = s.MaxLotsPerTrade
	}
	if qtyCap > 0 && lots > qtyCap {
		lots = qtyCap
	}
	if lots < 0 {
		return 0
	}
	return lots
}
