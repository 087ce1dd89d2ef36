package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/notify"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/positions"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/ticks"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/trade"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// exitDedupWindow suppresses duplicate exit decisions for the same
// position and reason.
const exitDedupWindow = 10 * time.Second

// Exit reasons, first match wins in rule order.
const (
	ExitEmergency    = "emergency_floor"
	ExitSession      = "session_halt"
	ExitInvalidation = "signal_invalidation"
	ExitTakeProfit   = "take_profit"
	ExitStopLoss     = "stop_loss"
)

// ExitManager walks every open position each decision tick and applies the
// risk rules in fixed order. All exits route through the trade executor; a
// rejected exit is simply retried on the next tick.
type ExitManager struct {
	global   config.GlobalConfig
	signals  SignalSource
	cache    *ticks.Cache
	tracker  *positions.Tracker
	exec     *trade.Executor
	feed     SubscriptionSet
	notifier notify.Notifier
	pnl      *PnLTracker
	logger   *slog.Logger

	mu     sync.Mutex
	recent map[string]time.Time // position_id+reason → decision time
	now    func() time.Time
}

// NewExitManager wires the exit flow.
func NewExitManager(
	global config.GlobalConfig,
	signals SignalSource,
	cache *ticks.Cache,
	tracker *positions.Tracker,
	exec *trade.Executor,
	feed SubscriptionSet,
	notifier notify.Notifier,
	pnl *PnLTracker,
	logger *slog.Logger,
) *ExitManager {
	return &ExitManager{
		global:   global,
		signals:  signals,
		cache:    cache,
		tracker:  tracker,
		exec:     exec,
		feed:     feed,
		notifier: notifier,
		pnl:      pnl,
		logger:   logger.With("component", "exit_manager"),
		recent:   make(map[string]time.Time),
		now:      time.Now,
	}
}

// Tick runs one exit pass over all open positions. A failure on one
// position never stops the loop.
func (xm *ExitManager) Tick(ctx context.Context) {
	for _, pos := range xm.tracker.ListOpen() {
		if reason := xm.decide(pos); reason != "" {
			xm.exitMarket(ctx, pos, reason)
		}
	}
}

// ForceExitAll market-sells every open position, used on session halt.
func (xm *ExitManager) ForceExitAll(ctx context.Context, reason string) {
	for _, pos := range xm.tracker.ListOpen() {
		xm.exitMarket(ctx, pos, reason)
	}
}

// decide applies the rule ladder and returns the exit reason, or "" to
// hold. Rules that only move the stop (breakeven lock, trailing) mutate the
// position and return "".
func (xm *ExitManager) decide(pos positions.Position) string {
	price, ok := xm.cache.LTP(pos.Key.Segment, pos.Key.SecurityID)
	if !ok || !price.IsPositive() {
		return ""
	}

	unrealized := price.Sub(pos.BuyAvg).MulInt(int64(pos.NetQty))
	if xm.global.EmergencyFloorRupees > 0 &&
		unrealized.LessThanOrEqual(money.FromFloat(-xm.global.EmergencyFloorRupees)) {
		return ExitEmergency
	}

	if pos.Underlying != "" {
		sig := xm.signals.Evaluate(pos.Underlying)
		if sig.Proceed && sig.Opposes(pos.Right) {
			return ExitInvalidation
		}
	}

	if price.GreaterThanOrEqual(pos.TakeProfit) && pos.TakeProfit.IsPositive() {
		return ExitTakeProfit
	}
	if price.LessThanOrEqual(pos.StopLoss) && pos.StopLoss.IsPositive() {
		return ExitStopLoss
	}

	xm.adjustStops(pos.Key, price)
	return ""
}

// adjustStops applies the breakeven lock and the trailing stop under the
// position's lock. Stops only ever move up.
func (xm *ExitManager) adjustStops(key positions.Key, price money.Money) {
	fee := xm.exec.Fee()
	xm.tracker.Mutate(key, func(p *positions.Position) {
		if price.GreaterThan(p.PeakPrice) {
			p.PeakPrice = price
		}

		if !p.BreakevenLocked && xm.global.BreakevenThresholdPct > 0 {
			threshold := p.BuyAvg.MulFloat(1 + xm.global.BreakevenThresholdPct)
			if price.GreaterThanOrEqual(threshold) && p.NetQty > 0 {
				feePerUnit, _ := fee.Div(money.New(int64(p.NetQty)))
				p.StopLoss = p.StopLoss.Max(p.BuyAvg.Add(feePerUnit))
				p.BreakevenLocked = true
			}
		}

		if xm.global.TrailPct > 0 {
			trail := p.PeakPrice.MulFloat(1 - xm.global.TrailPct)
			if xm.global.RupeeStep > 0 {
				trail = snapUp(trail, xm.global.RupeeStep)
			}
			p.TrailingStop = trail
			p.StopLoss = p.StopLoss.Max(trail)
		}
	})
}

// snapUp rounds v up to the next multiple of step.
func snapUp(v money.Money, step float64) money.Money {
	s := decimal.NewFromFloat(step)
	return money.FromDecimal(v.Decimal().Div(s).Ceil().Mul(s))
}

// exitMarket sells the full position once per (position, reason) within the
// dedup window.
func (xm *ExitManager) exitMarket(ctx context.Context, pos positions.Position, reason string) {
	key := pos.ID + ":" + reason

	xm.mu.Lock()
	if at, ok := xm.recent[key]; ok && xm.now().Sub(at) < exitDedupWindow {
		xm.mu.Unlock()
		return
	}
	xm.recent[key] = xm.now()
	xm.mu.Unlock()

	order, err := xm.exec.Sell(ctx, trade.Request{
		Segment:        pos.Key.Segment,
		SecurityID:     pos.Key.SecurityID,
		Quantity:       pos.NetQty,
		Reason:         reason,
		IdempotencyKey: "exit:" + key,
	})
	if err != nil {
		// Retried on the next decision tick once the dedup window lapses.
		xm.pnl.RecordFailure(err)
		xm.logger.Warn("exit rejected", "position", pos.ID, "reason", reason, "error", err)
		return
	}

	if order.OrderID == "" {
		// Duplicate suppressed by the executor; nothing new happened.
		return
	}

	after, _ := xm.tracker.Get(pos.Key)
	realized := after.RealizedPnL.Sub(pos.RealizedPnL)
	xm.pnl.RecordOrder(order, realized)
	xm.notifier.TradeClosed(order, realized.String())

	if after.NetQty == 0 {
		xm.feed.RemovePosition(types.InstrumentKey{Segment: pos.Key.Segment, SecurityID: pos.Key.SecurityID})
	}
	xm.logger.Info("position closed",
		"position", pos.ID, "reason", reason, "qty", order.FilledQuantity,
		"price", order.FilledPrice, "realized", realized)
}
