// Package positions is the authoritative store for open positions.
//
// A position is keyed by (segment, security_id, side) and carries
// weighted-average entry, partial-exit accounting, and the risk fields the
// exit loop mutates (stop-loss, take-profit, trailing stop, peak price).
// All mutations serialize on a per-key lock; reads never take a global lock.
package positions

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Key identifies one position.
type Key struct {
	Segment    string
	SecurityID string
	Side       types.Side
}

// ID is the durable position id, e.g. "NSE_FNO:44443:BUY".
func (k Key) ID() string {
	return k.Segment + ":" + k.SecurityID + ":" + string(k.Side)
}

// Position is the full per-instrument position record.
type Position struct {
	Key        Key         `json:"-"`
	ID         string      `json:"id"`
	Underlying string      `json:"underlying,omitempty"`
	Right      types.Right `json:"right,omitempty"`
	LotSize    int         `json:"lot_size,omitempty"`

	BuyQty     int         `json:"buy_qty"`
	BuyAvg     money.Money `json:"buy_avg"`
	SellQty    int         `json:"sell_qty"`
	SellAvg    money.Money `json:"sell_avg"`
	DayBuyQty  int         `json:"day_buy_qty"`
	DaySellQty int         `json:"day_sell_qty"`
	NetQty     int         `json:"net_qty"`

	RealizedPnL   money.Money `json:"realized_pnl"`
	UnrealizedPnL money.Money `json:"unrealized_pnl"`
	CurrentPrice  money.Money `json:"current_price"`

	EntryTimestamp time.Time `json:"entry_timestamp"`

	// Risk fields owned by the exit loop.
	PeakPrice       money.Money `json:"peak_price"`
	StopLoss        money.Money `json:"stop_loss"`
	TakeProfit      money.Money `json:"take_profit"`
	TrailingStop    money.Money `json:"trailing_stop"`
	BreakevenLocked bool        `json:"breakeven_locked"`

	OrderIDs []string `json:"order_ids,omitempty"`
}

// ExitResult is what a partial exit yields.
type ExitResult struct {
	RealizedPnL money.Money
	NetProceeds money.Money
	NetQty      int
}

// Meta carries optional instrument context attached on the first fill.
type Meta struct {
	Underlying string
	Right      types.Right
	LotSize    int
}

type entry struct {
	mu  sync.Mutex
	pos Position
}

// Tracker owns all positions for the session.
type Tracker struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[Key]*entry)}
}

func (t *Tracker) entryFor(key Key, create bool) *entry {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if ok || !create {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[key]; ok {
		return e
	}
	e = &entry{pos: Position{Key: key, ID: key.ID()}}
	t.entries[key] = e
	return e
}

// AddFill applies a buy fill with weighted-average entry accounting.
// Fees are cash-flow only and never folded into the average.
func (t *Tracker) AddFill(key Key, qty int, price money.Money, orderID string, meta *Meta) Position {
	e := t.entryFor(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	p := &e.pos
	if p.NetQty == 0 {
		p.EntryTimestamp = time.Now()
		p.PeakPrice = price
		p.RealizedPnL = money.Zero
		p.BreakevenLocked = false
		p.TrailingStop = money.Zero
	}
	if meta != nil {
		p.Underlying = meta.Underlying
		p.Right = meta.Right
		p.LotSize = meta.LotSize
	}

	// buy_avg' = (buy_avg·buy_qty + price·qty) / (buy_qty + qty)
	totalCost := p.BuyAvg.MulInt(int64(p.BuyQty)).Add(price.MulInt(int64(qty)))
	p.BuyQty += qty
	p.DayBuyQty += qty
	if p.BuyQty > 0 {
		avg, _ := totalCost.Div(money.New(int64(p.BuyQty)))
		p.BuyAvg = avg
	}
	p.NetQty = p.BuyQty - p.SellQty
	p.CurrentPrice = price
	if price.GreaterThan(p.PeakPrice) {
		p.PeakPrice = price
	}
	if orderID != "" {
		p.OrderIDs = append(p.OrderIDs, orderID)
	}
	return *p
}

// PartialExit reduces the position by qty at price. Realized P&L is
// (price − buy_avg)·qty; the average is unchanged. Returns
// types.ErrInsufficientPosition when qty exceeds the net quantity.
func (t *Tracker) PartialExit(key Key, qty int, price, fee money.Money, orderID string) (ExitResult, error) {
	e := t.entryFor(key, false)
	if e == nil {
		return ExitResult{}, types.ErrInsufficientPosition
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p := &e.pos
	if qty > p.NetQty {
		return ExitResult{}, types.ErrInsufficientPosition
	}

	realized := price.Sub(p.BuyAvg).MulInt(int64(qty))
	p.RealizedPnL = p.RealizedPnL.Add(realized)

	p.SellQty += qty
	p.DaySellQty += qty
	p.NetQty = p.BuyQty - p.SellQty
	p.CurrentPrice = price

	// sell_avg over all exits this session
	totalProceeds := p.SellAvg.MulInt(int64(p.SellQty - qty)).Add(price.MulInt(int64(qty)))
	if p.SellQty > 0 {
		avg, _ := totalProceeds.Div(money.New(int64(p.SellQty)))
		p.SellAvg = avg
	}

	if p.NetQty == 0 {
		p.UnrealizedPnL = money.Zero
		p.PeakPrice = money.Zero
		p.TrailingStop = money.Zero
		p.BreakevenLocked = false
	}

	if orderID != "" {
		p.OrderIDs = append(p.OrderIDs, orderID)
	}

	return ExitResult{
		RealizedPnL: realized,
		NetProceeds: price.MulInt(int64(qty)).Sub(fee),
		NetQty:      p.NetQty,
	}, nil
}

// LTPFunc resolves the latest price for an instrument, false when unknown.
type LTPFunc func(segment, securityID string) (money.Money, bool)

// UpdateUnrealized marks every open position to market and ratchets peaks.
func (t *Tracker) UpdateUnrealized(ltp LTPFunc) {
	for _, e := range t.snapshotEntries() {
		e.mu.Lock()
		p := &e.pos
		if p.NetQty > 0 {
			if price, ok := ltp(p.Key.Segment, p.Key.SecurityID); ok {
				p.CurrentPrice = price
				p.UnrealizedPnL = price.Sub(p.BuyAvg).MulInt(int64(p.NetQty))
				if price.GreaterThan(p.PeakPrice) {
					p.PeakPrice = price
				}
			}
		}
		e.mu.Unlock()
	}
}

// Get returns a copy of the position.
func (t *Tracker) Get(key Key) (Position, bool) {
	e := t.entryFor(key, false)
	if e == nil {
		return Position{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, true
}

// ListOpen returns copies of all positions with net quantity > 0,
// in deterministic ID order.
func (t *Tracker) ListOpen() []Position {
	var out []Position
	for _, e := range t.snapshotEntries() {
		e.mu.Lock()
		if e.pos.NetQty > 0 {
			out = append(out, e.pos)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Mutate runs fn under the per-key lock so risk-field updates
// (stop-loss, trailing, breakeven) are atomic against concurrent exits.
func (t *Tracker) Mutate(key Key, fn func(p *Position)) bool {
	e := t.entryFor(key, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.pos)
	return true
}

// ResetDayQuantities zeroes the day counters at session rollover.
func (t *Tracker) ResetDayQuantities() {
	for _, e := range t.snapshotEntries() {
		e.mu.Lock()
		e.pos.DayBuyQty = 0
		e.pos.DaySellQty = 0
		e.mu.Unlock()
	}
}

// Restore seeds a position from a persisted record (crash recovery).
func (t *Tracker) Restore(pos Position) {
	e := t.entryFor(pos.Key, true)
	e.mu.Lock()
	pos.ID = pos.Key.ID()
	e.pos = pos
	e.mu.Unlock()
}

func (t *Tracker) snapshotEntries() []*entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Store encoding
// ————————————————————————————————————————————————————————————————————————

// Encode flattens a position to the printable-string hash the durable
// store persists under pos:<pid>.
func Encode(p Position) map[string]string {
	return map[string]string{
		"segment":          p.Key.Segment,
		"security_id":      p.Key.SecurityID,
		"side":             string(p.Key.Side),
		"underlying":       p.Underlying,
		"right":            string(p.Right),
		"lot_size":         strconv.Itoa(p.LotSize),
		"buy_qty":          strconv.Itoa(p.BuyQty),
		"buy_avg":          p.BuyAvg.String(),
		"sell_qty":         strconv.Itoa(p.SellQty),
		"sell_avg":         p.SellAvg.String(),
		"day_buy_qty":      strconv.Itoa(p.DayBuyQty),
		"day_sell_qty":     strconv.Itoa(p.DaySellQty),
		"net_qty":          strconv.Itoa(p.NetQty),
		"realized_pnl":     p.RealizedPnL.String(),
		"unrealized_pnl":   p.UnrealizedPnL.String(),
		"current_price":    p.CurrentPrice.String(),
		"entry_timestamp":  p.EntryTimestamp.Format(time.RFC3339Nano),
		"peak_price":       p.PeakPrice.String(),
		"stop_loss":        p.StopLoss.String(),
		"take_profit":      p.TakeProfit.String(),
		"trailing_stop":    p.TrailingStop.String(),
		"breakeven_locked": strconv.FormatBool(p.BreakevenLocked),
	}
}

// Decode rebuilds a position from its persisted hash.
func Decode(fields map[string]string) Position {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	p := Position{
		Key: Key{
			Segment:    fields["segment"],
			SecurityID: fields["security_id"],
			Side:       types.Side(fields["side"]),
		},
		Underlying:      fields["underlying"],
		Right:           types.Right(fields["right"]),
		LotSize:         atoi(fields["lot_size"]),
		BuyQty:          atoi(fields["buy_qty"]),
		BuyAvg:          money.BD(fields["buy_avg"]),
		SellQty:         atoi(fields["sell_qty"]),
		SellAvg:         money.BD(fields["sell_avg"]),
		DayBuyQty:       atoi(fields["day_buy_qty"]),
		DaySellQty:      atoi(fields["day_sell_qty"]),
		NetQty:          atoi(fields["net_qty"]),
		RealizedPnL:     money.BD(fields["realized_pnl"]),
		UnrealizedPnL:   money.BD(fields["unrealized_pnl"]),
		CurrentPrice:    money.BD(fields["current_price"]),
		PeakPrice:       money.BD(fields["peak_price"]),
		StopLoss:        money.BD(fields["stop_loss"]),
		TakeProfit:      money.BD(fields["take_profit"]),
		TrailingStop:    money.BD(fields["trailing_stop"]),
		BreakevenLocked: fields["breakeven_locked"] == "true",
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["entry_timestamp"]); err == nil {
		p.EntryTimestamp = ts
	}
	p.ID = p.Key.ID()
	return p
}
