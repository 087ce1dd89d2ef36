// Package trade is the only path through which money and positions change.
//
// Every buy and sell runs inside one critical section that checks funds or
// inventory, places the broker order, applies the balance move and position
// update, and persists the order trail. Rejections happen before any order
// reaches the broker, so a failed precondition never leaves a dangling fill.
package trade

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

// Broker places market orders. Paper and live implementations share this
// surface; the result carries the fill or the failure.
type Broker interface {
	BuyMarket(ctx context.Context, segment, securityID string, qty int) types.OrderResult
	SellMarket(ctx context.Context, segment, securityID string, qty int) types.OrderResult
}

// LTPFunc resolves the latest traded price for affordability checks.
type LTPFunc func(segment, securityID string) (money.Money, bool)

// Request describes one trade to execute.
type Request struct {
	Segment    string
	SecurityID string
	Quantity   int
	Reason     string
	Meta       *positions.Meta

	// IdempotencyKey suppresses duplicate submissions within the
	// idempotency TTL. Empty disables the check.
	IdempotencyKey string
}

// Executor is the atomic trade path.
type Executor struct {
	broker  Broker
	wallet  balance.Provider
	tracker *positions.Tracker
	st      store.Store
	keys    store.Keys
	ltp     LTPFunc
	logger  *slog.Logger

	sessionID string
	mode      types.Mode
	fee       money.Money // flat charge per executed order

	mu sync.Mutex
}

// NewExecutor wires the trade path.
func NewExecutor(
	broker Broker,
	wallet balance.Provider,
	tracker *positions.Tracker,
	st store.Store,
	keys store.Keys,
	ltp LTPFunc,
	sessionID string,
	mode types.Mode,
	fee money.Money,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		broker:    broker,
		wallet:    wallet,
		tracker:   tracker,
		st:        st,
		keys:      keys,
		ltp:       ltp,
		sessionID: sessionID,
		mode:      mode,
		fee:       fee,
		logger:    logger.With("component", "trade_executor"),
	}
}

// Fee returns the flat per-order charge.
func (e *Executor) Fee() money.Money { return e.fee }

// Buy executes a market buy. The affordability check runs against the
// latest price before any order reaches the broker; an unaffordable trade
// returns types.ErrInsufficientBalance with no order placed.
func (e *Executor) Buy(ctx context.Context, req Request) (types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prior, dup := e.checkIdempotency(ctx, req.IdempotencyKey); dup {
		return prior, nil
	}

	price, ok := e.ltp(req.Segment, req.SecurityID)
	if !ok || !price.IsPositive() {
		return types.Order{}, e.fail(ctx, req.IdempotencyKey, types.ErrInvalidPrice)
	}

	estCost := price.MulInt(int64(req.Quantity)).Add(e.fee)
	if e.wallet.Available().LessThan(estCost) {
		return types.Order{}, e.fail(ctx, req.IdempotencyKey, types.ErrInsufficientBalance)
	}

	res := e.broker.BuyMarket(ctx, req.Segment, req.SecurityID, req.Quantity)
	if !res.OK {
		e.logger.Warn("buy rejected by broker",
			"security_id", req.SecurityID, "qty", req.Quantity, "error", res.Err)
		return types.Order{}, e.fail(ctx, req.IdempotencyKey, res.Err)
	}

	cost := res.FilledPrice.MulInt(int64(res.FilledQty)).Add(e.fee)
	if err := e.wallet.Update(cost, balance.Debit); err != nil {
		// Fill came in worse than the estimate and funds no longer cover
		// it. Unwind immediately so no unfunded position survives.
		e.logger.Error("debit failed after fill, unwinding",
			"order_id", res.OrderID, "cost", cost, "error", err)
		e.broker.SellMarket(ctx, req.Segment, req.SecurityID, res.FilledQty)
		return types.Order{}, e.fail(ctx, req.IdempotencyKey, err)
	}

	key := positions.Key{Segment: req.Segment, SecurityID: req.SecurityID, Side: types.BUY}
	pos := e.tracker.AddFill(key, res.FilledQty, res.FilledPrice, res.OrderID, req.Meta)

	order := types.Order{
		OrderID:        res.OrderID,
		PositionID:     pos.ID,
		SecurityID:     req.SecurityID,
		Segment:        req.Segment,
		Side:           types.BUY,
		Quantity:       req.Quantity,
		FilledQuantity: res.FilledQty,
		Price:          price,
		FilledPrice:    res.FilledPrice,
		Fee:            e.fee,
		Status:         types.OrderFilled,
		Reason:         req.Reason,
		CreatedAt:      time.Now(),
		FilledAt:       time.Now(),
		SessionID:      e.sessionID,
		Mode:           e.mode,
	}

	e.persist(ctx, order, pos, req.IdempotencyKey)

	e.logger.Info("buy filled",
		"order_id", order.OrderID, "security_id", req.SecurityID,
		"qty", res.FilledQty, "price", res.FilledPrice, "reason", req.Reason)
	return order, nil
}

// Sell executes a market sell against an open position. Selling more than
// the net quantity is rejected with types.ErrInsufficientPosition before any
// order is placed. Realized P&L is attributed against the weighted-average
// entry; net proceeds (gross minus fee) are credited back to the wallet.
func (e *Executor) Sell(ctx context.Context, req Request) (types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prior, dup := e.checkIdempotency(ctx, req.IdempotencyKey); dup {
		return prior, nil
	}

	key := positions.Key{Segment: req.Segment, SecurityID: req.SecurityID, Side: types.BUY}
	pos, ok := e.tracker.Get(key)
	if !ok || req.Quantity > pos.NetQty {
		return types.Order{}, e.fail(ctx, req.IdempotencyKey, types.ErrInsufficientPosition)
	}

	res := e.broker.SellMarket(ctx, req.Segment, req.SecurityID, req.Quantity)
	if !res.OK {
		e.logger.Warn("sell rejected by broker",
			"security_id", req.SecurityID, "qty", req.Quantity, "error", res.Err)
		return types.Order{}, e.fail(ctx, req.IdempotencyKey, res.Err)
	}

	exit, err := e.tracker.PartialExit(key, res.FilledQty, res.FilledPrice, e.fee, res.OrderID)
	if err != nil {
		return types.Order{}, e.fail(ctx, req.IdempotencyKey, err)
	}

	if err := e.wallet.Update(exit.NetProceeds, balance.Credit); err != nil {
		e.logger.Error("credit failed after sell fill", "order_id", res.OrderID, "error", err)
	}
	e.wallet.AddRealizedPnL(exit.RealizedPnL)

	pos, _ = e.tracker.Get(key)
	order := types.Order{
		OrderID:        res.OrderID,
		PositionID:     pos.ID,
		SecurityID:     req.SecurityID,
		Segment:        req.Segment,
		Side:           types.SELL,
		Quantity:       req.Quantity,
		FilledQuantity: res.FilledQty,
		Price:          res.FilledPrice,
		FilledPrice:    res.FilledPrice,
		Fee:            e.fee,
		Status:         types.OrderFilled,
		Reason:         req.Reason,
		CreatedAt:      time.Now(),
		FilledAt:       time.Now(),
		SessionID:      e.sessionID,
		Mode:           e.mode,
	}

	e.persist(ctx, order, pos, req.IdempotencyKey)

	e.logger.Info("sell filled",
		"order_id", order.OrderID, "security_id", req.SecurityID,
		"qty", res.FilledQty, "price", res.FilledPrice,
		"realized", exit.RealizedPnL, "reason", req.Reason)
	return order, nil
}

// fail releases the idempotency claim so the caller can retry the trade on
// the next decision tick.
func (e *Executor) fail(ctx context.Context, idemKey string, err error) error {
	if idemKey != "" {
		e.st.Del(ctx, e.keys.Idempotency(idemKey))
	}
	return err
}

// checkIdempotency claims the key; on a duplicate it resolves the earlier
// order so the caller sees the same outcome twice.
func (e *Executor) checkIdempotency(ctx context.Context, key string) (types.Order, bool) {
	if key == "" {
		return types.Order{}, false
	}
	claimed, err := e.st.SetNX(ctx, e.keys.Idempotency(key), "pending", store.IdempotencyTTL)
	if err != nil {
		e.logger.Warn("idempotency check failed, proceeding", "key", key, "error", err)
		return types.Order{}, false
	}
	if claimed {
		return types.Order{}, false
	}

	oid, err := e.st.Get(ctx, e.keys.Idempotency(key))
	if err == nil && oid != "" && oid != "pending" {
		if fields, err := e.st.HGetAll(ctx, e.keys.Order(oid)); err == nil {
			e.logger.Info("duplicate trade suppressed", "key", key, "order_id", oid)
			return DecodeOrder(fields), true
		}
	}
	e.logger.Info("duplicate trade suppressed", "key", key)
	return types.Order{}, true
}

// persist writes the order trail and position record in one transaction.
// Store failures are logged and counted but never undo an executed trade;
// the in-memory tracker stays authoritative.
func (e *Executor) persist(ctx context.Context, order types.Order, pos positions.Position, idemKey string) {
	err := e.st.Atomic(ctx, func(tx store.Store) error {
		if err := tx.HSet(ctx, e.keys.Order(order.OrderID), EncodeOrder(order)); err != nil {
			return err
		}
		if err := tx.LPush(ctx, e.keys.Orders(string(e.mode), e.sessionID), order.OrderID); err != nil {
			return err
		}
		if err := tx.HSet(ctx, e.keys.Position(pos.ID), positions.Encode(pos)); err != nil {
			return err
		}
		if pos.NetQty > 0 {
			return tx.SAdd(ctx, e.keys.OpenPositions(), pos.ID)
		}
		return tx.SRem(ctx, e.keys.OpenPositions(), pos.ID)
	})
	if err != nil {
		e.logger.Error("order persistence failed", "order_id", order.OrderID, "error", err)
		return
	}
	if idemKey != "" {
		e.st.Set(ctx, e.keys.Idempotency(idemKey), order.OrderID, store.IdempotencyTTL)
	}
}

// EncodeOrder flattens an order to the store hash under order:<oid>.
func EncodeOrder(o types.Order) map[string]string {
	return map[string]string{
		"order_id":        o.OrderID,
		"position_id":     o.PositionID,
		"security_id":     o.SecurityID,
		"segment":         o.Segment,
		"side":            string(o.Side),
		"quantity":        strconv.Itoa(o.Quantity),
		"filled_quantity": strconv.Itoa(o.FilledQuantity),
		"price":           o.Price.String(),
		"filled_price":    o.FilledPrice.String(),
		"fee":             o.Fee.String(),
		"status":          string(o.Status),
		"reason":          o.Reason,
		"created_at":      o.CreatedAt.Format(time.RFC3339Nano),
		"filled_at":       o.FilledAt.Format(time.RFC3339Nano),
		"session_id":      o.SessionID,
		"mode":            string(o.Mode),
	}
}

// DecodeOrder rebuilds an order from its persisted hash.
func DecodeOrder(fields map[string]string) types.Order {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	o := types.Order{
		OrderID:        fields["order_id"],
		PositionID:     fields["position_id"],
		SecurityID:     fields["security_id"],
		Segment:        fields["segment"],
		Side:           types.Side(fields["side"]),
		Quantity:       atoi(fields["quantity"]),
		FilledQuantity: atoi(fields["filled_quantity"]),
		Price:          money.BD(fields["price"]),
		FilledPrice:    money.BD(fields["filled_price"]),
		Fee:            money.BD(fields["fee"]),
		Status:         types.OrderStatus(fields["status"]),
		Reason:         fields["reason"],
		SessionID:      fields["session_id"],
		Mode:           types.Mode(fields["mode"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		o.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["filled_at"]); err == nil {
		o.FilledAt = ts
	}
	return o
}
