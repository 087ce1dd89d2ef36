package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/balance"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/instruments"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/notify"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/positions"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/ticks"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/trade"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// SubscriptionSet is the feed surface the engine drives as positions open
// and close.
type SubscriptionSet interface {
	AddPosition(key types.InstrumentKey)
	RemovePosition(key types.InstrumentKey)
}

// EntryManager turns signals into funded option positions. Symbols are
// evaluated in configured priority order on every decision tick.
type EntryManager struct {
	cfg      *config.Config
	signals  SignalSource
	picker   *instruments.Picker
	sizer    instruments.Sizer
	cache    *ticks.Cache
	wallet   balance.Provider
	tracker  *positions.Tracker
	exec     *trade.Executor
	feed     SubscriptionSet
	notifier notify.Notifier
	pnl      *PnLTracker
	logger   *slog.Logger
}

// NewEntryManager wires the entry flow.
func NewEntryManager(
	cfg *config.Config,
	signals SignalSource,
	picker *instruments.Picker,
	cache *ticks.Cache,
	wallet balance.Provider,
	tracker *positions.Tracker,
	exec *trade.Executor,
	feed SubscriptionSet,
	notifier notify.Notifier,
	pnl *PnLTracker,
	logger *slog.Logger,
) *EntryManager {
	return &EntryManager{
		cfg:     cfg,
		signals: signals,
		picker:  picker,
		sizer: instruments.Sizer{
			AllocationPct:     cfg.Global.AllocationPct,
			SlippageBufferPct: cfg.Global.SlippageBufferPct,
			MaxLotsPerTrade:   cfg.Global.MaxLotsPerTrade,
		},
		cache:    cache,
		wallet:   wallet,
		tracker:  tracker,
		exec:     exec,
		feed:     feed,
		notifier: notifier,
		pnl:      pnl,
		logger:   logger.With("component", "entry_manager"),
	}
}

// Tick runs one entry pass. seq identifies the decision tick for entry
// idempotency.
func (em *EntryManager) Tick(ctx context.Context, seq int64) {
	for _, symbol := range em.cfg.Symbols {
		if len(em.tracker.ListOpen()) >= em.cfg.Global.MaxConcurrent {
			return
		}
		if err := em.trySymbol(ctx, symbol, seq); err != nil {
			em.pnl.RecordFailure(err)
			em.logger.Debug("entry skipped", "symbol", symbol, "reason", err)
		}
	}
}

func (em *EntryManager) trySymbol(ctx context.Context, symbol string, seq int64) error {
	params, ok := em.cfg.Params[symbol]
	if !ok {
		return types.ErrMissingInstrument
	}

	signal := em.signals.Evaluate(symbol)
	if !signal.Proceed || signal.Direction == types.None {
		return nil
	}

	right := types.Call
	if signal.Direction == types.Bearish {
		right = types.Put
	}
	if em.hasOpenPosition(symbol, right) {
		return nil
	}

	spot, ok := em.cache.LTP(params.SegIdx, params.IdxSID)
	if !ok || !em.cache.Fresh(params.SegIdx, params.IdxSID, em.cfg.WS.StaleThreshold) {
		return types.ErrStalePrice
	}

	pick, err := em.picker.Pick(symbol, spot, instruments.SymbolParams{
		StrikeStep:    params.StrikeStep,
		LotSize:       params.LotSize,
		ExpiryWeekday: time.Weekday(params.ExpiryWday),
		OptionSegment: params.SegOpt,
	})
	if err != nil {
		return err
	}
	sid, ok := pick.SecurityIDFor(right)
	if !ok {
		return types.ErrMissingInstrument
	}

	// Subscribe before quoting: a freshly picked strike has no cached
	// premium until its first tick arrives on this subscription, so the
	// entry completes on a later decision tick.
	em.feed.AddPosition(types.InstrumentKey{Segment: pick.Segment, SecurityID: sid})

	premium, ok := em.cache.LTP(pick.Segment, sid)
	if !ok {
		return types.ErrStalePrice
	}

	lots := em.sizer.Lots(em.wallet.Available(), premium, params.LotSize, params.QtyMultiplier)
	if lots == 0 {
		return nil
	}
	qty := lots * params.LotSize

	order, err := em.exec.Buy(ctx, trade.Request{
		Segment:        pick.Segment,
		SecurityID:     sid,
		Quantity:       qty,
		Reason:         "entry",
		Meta:           &positions.Meta{Underlying: symbol, Right: right, LotSize: params.LotSize},
		IdempotencyKey: fmt.Sprintf("entry:%s:%d", sid, seq),
	})
	if err != nil {
		return err
	}

	em.initRisk(pick.Segment, sid, order.FilledPrice)
	em.pnl.RecordOrder(order, money.Zero)
	em.notifier.TradeOpened(order)

	em.logger.Info("position opened",
		"symbol", symbol, "right", right, "security_id", sid,
		"strike", pick.ATM(), "expiry", pick.Expiry.Format("2006-01-02"),
		"lots", lots, "qty", qty, "premium", order.FilledPrice,
		"signal_strength", signal.Strength, "adx", signal.ADX)
	return nil
}

// initRisk sets the protective levels from the fill price.
func (em *EntryManager) initRisk(segment, sid string, filled money.Money) {
	key := positions.Key{Segment: segment, SecurityID: sid, Side: types.BUY}
	em.tracker.Mutate(key, func(p *positions.Position) {
		p.StopLoss = filled.MulFloat(1 - em.cfg.Global.SLPct)
		p.TakeProfit = filled.MulFloat(1 + em.cfg.Global.TPPct)
		p.TrailingStop = money.Zero
		p.BreakevenLocked = false
	})
}

// hasOpenPosition reports whether symbol already has an open option of the
// given right.
func (em *EntryManager) hasOpenPosition(symbol string, right types.Right) bool {
	for _, pos := range em.tracker.ListOpen() {
		if pos.Underlying == symbol && pos.Right == right {
			return true
		}
	}
	return false
}
