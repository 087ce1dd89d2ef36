// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the scalper — ticks, candles,
// orders, signal verdicts, and session records. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Right is the option right: call or put.
type Right string

const (
	Call Right = "CE"
	Put  Right = "PE"
)

// Mode distinguishes simulated fills from live broker orders.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// OrderStatus enumerates the order lifecycle. Orders are append-only;
// a record never mutates once it reaches filled, cancelled, or rejected.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Direction is the signal verdict for an underlying.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	None    Direction = "none"
)

// SubscriptionKind classifies feed subscriptions. Baseline instruments stay
// subscribed for the whole session; position instruments are added when a
// position opens and removed only when net quantity returns to zero.
type SubscriptionKind string

const (
	SubBaseline SubscriptionKind = "baseline"
	SubPosition SubscriptionKind = "position"
)

// ————————————————————————————————————————————————————————————————————————
// Instruments
// ————————————————————————————————————————————————————————————————————————

// InstrumentKey identifies one tradeable instrument on the exchange.
type InstrumentKey struct {
	Segment    string `json:"segment"`
	SecurityID string `json:"security_id"`
}

func (k InstrumentKey) String() string {
	return k.Segment + ":" + k.SecurityID
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Tick is the latest traded snapshot for one instrument. Immutable once
// published; the cache applies last-writer-wins only for non-decreasing
// server timestamps.
type Tick struct {
	Segment         string      `json:"segment"`
	SecurityID      string      `json:"security_id"`
	LTP             money.Money `json:"ltp"`
	ATP             money.Money `json:"atp"`
	DayHigh         money.Money `json:"day_high"`
	DayLow          money.Money `json:"day_low"`
	Volume          int64       `json:"volume"`
	ServerTimestamp time.Time   `json:"server_timestamp"`
	ReceivedAt      time.Time   `json:"received_at"`
}

// Key returns the instrument key for cache indexing.
func (t Tick) Key() InstrumentKey {
	return InstrumentKey{Segment: t.Segment, SecurityID: t.SecurityID}
}

// Candle is one OHLCV sample at a fixed interval.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// Signal is the indicator engine's verdict for one underlying.
// Proceed is true only when both timeframes agree and trend strength
// clears the configured ADX minimums.
type Signal struct {
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"` // composite confidence, 0..1
	ADX       float64   `json:"adx"`      // primary-timeframe ADX
	Proceed   bool      `json:"proceed"`
}

// Opposes reports whether the signal points against the given right.
func (s Signal) Opposes(r Right) bool {
	switch r {
	case Call:
		return s.Direction == Bearish
	case Put:
		return s.Direction == Bullish
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is the persisted record of one placed order. Fees attach here.
// Position linkage is by ID only; the position keeps order IDs, never
// a pointer back.
type Order struct {
	OrderID        string      `json:"order_id"`
	PositionID     string      `json:"position_id,omitempty"`
	SecurityID     string      `json:"security_id"`
	Segment        string      `json:"segment"`
	Side           Side        `json:"side"`
	Quantity       int         `json:"quantity"`
	FilledQuantity int         `json:"filled_quantity"`
	Price          money.Money `json:"price"`
	FilledPrice    money.Money `json:"filled_price"`
	Fee            money.Money `json:"fee"`
	Status         OrderStatus `json:"status"`
	Reason         string      `json:"reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	FilledAt       time.Time   `json:"filled_at,omitempty"`
	SessionID      string      `json:"session_id"`
	Mode           Mode        `json:"mode"`
}

// OrderResult is what a broker returns for a market order.
type OrderResult struct {
	OK          bool
	OrderID     string
	FilledPrice money.Money
	FilledQty   int
	Err         error
}

// ————————————————————————————————————————————————————————————————————————
// Session P&L
// ————————————————————————————————————————————————————————————————————————

// SessionPnL aggregates the day's trading outcome. Lives for the full
// session and is snapshotted to the durable store on every decision tick.
type SessionPnL struct {
	Realized         money.Money `json:"realized"`
	Unrealized       money.Money `json:"unrealized"`
	Fees             money.Money `json:"fees"`
	Total            money.Money `json:"total"`
	StartTime        time.Time   `json:"start_time"`
	LastUpdate       time.Time   `json:"last_update"`
	TotalTrades      int         `json:"total_trades"`
	WinningTrades    int         `json:"winning_trades"`
	LosingTrades     int         `json:"losing_trades"`
	MaxDrawdown      money.Money `json:"max_drawdown"`
	MaxProfit        money.Money `json:"max_profit"`
	CurrentPositions int         `json:"current_positions"`
}

// SessionReport is the tabular end-of-session artifact.
type SessionReport struct {
	SessionID       string         `json:"session_id"`
	Start           time.Time      `json:"start"`
	End             time.Time      `json:"end"`
	Duration        time.Duration  `json:"duration"`
	TotalTrades     int            `json:"total_trades"`
	Winning         int            `json:"winning"`
	Losing          int            `json:"losing"`
	WinRate         float64        `json:"win_rate"`
	TotalPnL        money.Money    `json:"total_pnl"`
	MaxProfit       money.Money    `json:"max_profit"`
	MaxDrawdown     money.Money    `json:"max_drawdown"`
	StartingBalance money.Money    `json:"starting_balance"`
	FinalBalance    money.Money    `json:"final_balance"`
	FailureCounts   map[string]int `json:"failure_counts,omitempty"`
}

// String renders the report for logs and the CLI.
func (r SessionReport) String() string {
	return fmt.Sprintf(
		"session %s | %s → %s (%s)\n"+
			"trades: %d (W %d / L %d, %.1f%%)\n"+
			"pnl: %s (max profit %s, max drawdown %s)\n"+
			"balance: %s → %s",
		r.SessionID,
		r.Start.Format("15:04:05"), r.End.Format("15:04:05"), r.Duration.Round(time.Second),
		r.TotalTrades, r.Winning, r.Losing, r.WinRate,
		r.TotalPnL, r.MaxProfit, r.MaxDrawdown,
		r.StartingBalance, r.FinalBalance,
	)
}
