package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/balance"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Live places real intraday market orders on the exchange API. Requests are
// retried with jittered backoff on transport errors and 5xx, and a circuit
// breaker sheds load while the API is failing.
type Live struct {
	http     *resty.Client
	breaker  *gobreaker.CircuitBreaker
	clientID string
	ltp      LTPFunc
	logger   *slog.Logger
}

var _ Broker = (*Live)(nil)
var _ balance.FundsFetcher = (*Live)(nil)

type orderRequest struct {
	ClientID        string `json:"dhanClientId"`
	TransactionType string `json:"transactionType"`
	ExchangeSegment string `json:"exchangeSegment"`
	ProductType     string `json:"productType"`
	OrderType       string `json:"orderType"`
	SecurityID      string `json:"securityId"`
	Quantity        int    `json:"quantity"`
}

type orderResponse struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

type orderDetail struct {
	OrderID            string  `json:"orderId"`
	OrderStatus        string  `json:"orderStatus"`
	AverageTradedPrice float64 `json:"averageTradedPrice"`
	FilledQty          int     `json:"filledQty"`
}

type fundsResponse struct {
	// Field spelling follows the upstream API.
	AvailableBalance float64 `json:"availabelBalance"`
	UtilizedAmount   float64 `json:"utilizedAmount"`
}

// NewLive creates the live broker client.
func NewLive(cfg config.BrokerConfig, ltp LTPFunc, logger *slog.Logger) *Live {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("access-token", cfg.AccessToken)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "exchange-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Live{
		http:     httpClient,
		breaker:  breaker,
		clientID: cfg.ClientID,
		ltp:      ltp,
		logger:   logger.With("component", "live_broker"),
	}
}

func (l *Live) BuyMarket(ctx context.Context, segment, securityID string, qty int) types.OrderResult {
	return l.place(ctx, OrderSpec{Segment: segment, SecurityID: securityID, Side: types.BUY, Quantity: qty})
}

func (l *Live) SellMarket(ctx context.Context, segment, securityID string, qty int) types.OrderResult {
	return l.place(ctx, OrderSpec{Segment: segment, SecurityID: securityID, Side: types.SELL, Quantity: qty})
}

// PlaceOrder is the unified entry point.
func (l *Live) PlaceOrder(ctx context.Context, spec OrderSpec) types.OrderResult {
	return l.place(ctx, spec)
}

func (l *Live) place(ctx context.Context, spec OrderSpec) types.OrderResult {
	out, err := l.breaker.Execute(func() (any, error) {
		return l.submit(ctx, spec)
	})
	if err != nil {
		var be *types.BrokerError
		if errors.As(err, &be) {
			return types.OrderResult{Err: be}
		}
		// Breaker-open and transport failures are worth retrying later.
		return types.OrderResult{Err: &types.BrokerError{Op: "place_order", Transient: true, Err: err}}
	}
	return out.(types.OrderResult)
}

func (l *Live) submit(ctx context.Context, spec OrderSpec) (types.OrderResult, error) {
	var placed orderResponse
	resp, err := l.http.R().
		SetContext(ctx).
		SetBody(orderRequest{
			ClientID:        l.clientID,
			TransactionType: string(spec.Side),
			ExchangeSegment: spec.Segment,
			ProductType:     "INTRADAY",
			OrderType:       "MARKET",
			SecurityID:      spec.SecurityID,
			Quantity:        spec.Quantity,
		}).
		SetResult(&placed).
		Post("/v2/orders")
	if err != nil {
		return types.OrderResult{}, &types.BrokerError{Op: "place_order", Transient: true, Err: err}
	}
	switch {
	case resp.StatusCode() == http.StatusOK || resp.StatusCode() == http.StatusAccepted:
	case resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests:
		return types.OrderResult{}, &types.BrokerError{
			Op: "place_order", Transient: true,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	default:
		return types.OrderResult{}, &types.BrokerError{
			Op: "place_order",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	if placed.OrderStatus == "REJECTED" {
		return types.OrderResult{}, &types.BrokerError{
			Op:  "place_order",
			Err: fmt.Errorf("order %s rejected", placed.OrderID),
		}
	}

	price, qty := l.confirmFill(ctx, placed.OrderID, spec)
	l.logger.Info("order placed",
		"order_id", placed.OrderID, "side", spec.Side,
		"security_id", spec.SecurityID, "qty", qty, "price", price)
	return types.OrderResult{OK: true, OrderID: placed.OrderID, FilledPrice: price, FilledQty: qty}, nil
}

// confirmFill reads back the fill price. When the detail endpoint lags the
// fill, the cached last traded price stands in so accounting can proceed.
func (l *Live) confirmFill(ctx context.Context, orderID string, spec OrderSpec) (money.Money, int) {
	var detail orderDetail
	resp, err := l.http.R().
		SetContext(ctx).
		SetResult(&detail).
		Get("/v2/orders/" + orderID)
	if err == nil && resp.StatusCode() == http.StatusOK && detail.AverageTradedPrice > 0 {
		qty := detail.FilledQty
		if qty == 0 {
			qty = spec.Quantity
		}
		return money.FromFloat(detail.AverageTradedPrice), qty
	}

	l.logger.Warn("fill confirmation unavailable, using cached price", "order_id", orderID, "error", err)
	if price, ok := l.ltp(spec.Segment, spec.SecurityID); ok {
		return price, spec.Quantity
	}
	return money.Zero, spec.Quantity
}

// Funds reads the funds endpoint; the balance proxy caches the result.
func (l *Live) Funds(ctx context.Context) (balance.Funds, error) {
	out, err := l.breaker.Execute(func() (any, error) {
		var funds fundsResponse
		resp, err := l.http.R().
			SetContext(ctx).
			SetResult(&funds).
			Get("/v2/fundlimit")
		if err != nil {
			return nil, &types.BrokerError{Op: "fundlimit", Transient: true, Err: err}
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, &types.BrokerError{
				Op:  "fundlimit",
				Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
			}
		}
		return balance.Funds{
			Available: money.FromFloat(funds.AvailableBalance),
			Used:      money.FromFloat(funds.UtilizedAmount),
		}, nil
	})
	if err != nil {
		return balance.Funds{}, err
	}
	return out.(balance.Funds), nil
}
