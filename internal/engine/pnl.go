package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/balance"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/positions"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/store"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// PnLTracker aggregates the day's outcome and snapshots it to the store on
// every decision tick.
type PnLTracker struct {
	st     store.Store
	keys   store.Keys
	logger *slog.Logger

	mu       sync.Mutex
	pnl      types.SessionPnL
	fees     money.Money
	failures map[string]int

	sessionID       string
	startingBalance money.Money
}

// NewPnLTracker starts a fresh session ledger.
func NewPnLTracker(sessionID string, startingBalance money.Money, st store.Store, keys store.Keys, logger *slog.Logger) *PnLTracker {
	return &PnLTracker{
		st:              st,
		keys:            keys,
		logger:          logger.With("component", "session_pnl"),
		sessionID:       sessionID,
		startingBalance: startingBalance,
		failures:        make(map[string]int),
		pnl:             types.SessionPnL{StartTime: time.Now()},
	}
}

// RecordOrder tallies an executed order's fee and, for sells, the trade
// outcome.
func (p *PnLTracker) RecordOrder(order types.Order, realized money.Money) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fees = p.fees.Add(order.Fee)
	p.pnl.TotalTrades++
	if order.Side == types.SELL {
		if realized.IsNegative() {
			p.pnl.LosingTrades++
		} else {
			p.pnl.WinningTrades++
		}
	}
}

// RecordFailure tallies a recoverable failure kind for the final report.
func (p *PnLTracker) RecordFailure(err error) {
	kind := types.FailureKind(err)
	if kind == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[kind]++
}

// Update recomputes the session totals from the wallet and open positions.
func (p *PnLTracker) Update(wallet balance.Provider, tracker *positions.Tracker) types.SessionPnL {
	unrealized := money.Zero
	open := tracker.ListOpen()
	for _, pos := range open {
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pnl.Realized = wallet.RealizedPnL()
	p.pnl.Unrealized = unrealized
	p.pnl.Fees = p.fees
	p.pnl.Total = p.pnl.Realized.Add(unrealized).Sub(p.fees)
	p.pnl.CurrentPositions = len(open)
	p.pnl.LastUpdate = time.Now()

	if p.pnl.Total.GreaterThan(p.pnl.MaxProfit) {
		p.pnl.MaxProfit = p.pnl.Total
	}
	if p.pnl.Total.LessThan(p.pnl.MaxDrawdown) {
		p.pnl.MaxDrawdown = p.pnl.Total
	}
	return p.pnl
}

// Total returns the current session total (realized + unrealized − fees).
func (p *PnLTracker) Total() money.Money {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pnl.Total
}

// Persist writes the session snapshot hash.
func (p *PnLTracker) Persist(ctx context.Context) {
	p.mu.Lock()
	snap := p.pnl
	p.mu.Unlock()

	fields := map[string]string{
		"session_id":        p.sessionID,
		"starting_balance":  p.startingBalance.String(),
		"realized":          snap.Realized.String(),
		"unrealized":        snap.Unrealized.String(),
		"fees":              snap.Fees.String(),
		"total":             snap.Total.String(),
		"total_trades":      itoa(snap.TotalTrades),
		"winning_trades":    itoa(snap.WinningTrades),
		"losing_trades":     itoa(snap.LosingTrades),
		"max_profit":        snap.MaxProfit.String(),
		"max_drawdown":      snap.MaxDrawdown.String(),
		"current_positions": itoa(snap.CurrentPositions),
		"start_time":        snap.StartTime.Format(time.RFC3339Nano),
		"last_update":       snap.LastUpdate.Format(time.RFC3339Nano),
	}
	if err := p.st.HSet(ctx, p.keys.SessionPnL(), fields); err != nil {
		p.logger.Warn("session pnl persist failed", "error", err)
	}
}

// Report renders the end-of-session artifact.
func (p *PnLTracker) Report(finalBalance money.Money) types.SessionReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var winRate float64
	closed := p.pnl.WinningTrades + p.pnl.LosingTrades
	if closed > 0 {
		winRate = float64(p.pnl.WinningTrades) / float64(closed) * 100
	}

	failures := make(map[string]int, len(p.failures))
	for k, v := range p.failures {
		failures[k] = v
	}

	return types.SessionReport{
		SessionID:       p.sessionID,
		Start:           p.pnl.StartTime,
		End:             now,
		Duration:        now.Sub(p.pnl.StartTime),
		TotalTrades:     p.pnl.TotalTrades,
		Winning:         p.pnl.WinningTrades,
		Losing:          p.pnl.LosingTrades,
		WinRate:         winRate,
		TotalPnL:        p.pnl.Total,
		MaxProfit:       p.pnl.MaxProfit,
		MaxDrawdown:     p.pnl.MaxDrawdown,
		StartingBalance: p.startingBalance,
		FinalBalance:    finalBalance,
		FailureCounts:   failures,
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
