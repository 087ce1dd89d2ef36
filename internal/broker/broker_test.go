package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

func fixedLTP(price int64) LTPFunc {
	return func(_, _ string) (money.Money, bool) { return money.New(price), true }
}

func noLTP(_, _ string) (money.Money, bool) { return money.Zero, false }

func TestPaperFillsAtCachedPrice(t *testing.T) {
	t.Parallel()
	p := NewPaper(fixedLTP(104), slog.New(slog.NewTextHandler(io.Discard, nil)))

	res := p.BuyMarket(context.Background(), "NSE_FNO", "44443", 75)
	if !res.OK || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if !res.FilledPrice.Equal(money.New(104)) || res.FilledQty != 75 {
		t.Errorf("fill = %v x %d, want 104 x 75", res.FilledPrice, res.FilledQty)
	}
	if !strings.HasPrefix(res.OrderID, "PAPER-") {
		t.Errorf("OrderID = %q", res.OrderID)
	}
	if p.Fills() != 1 {
		t.Errorf("Fills = %d, want 1", p.Fills())
	}
}

func TestPaperRejectsMissingPrice(t *testing.T) {
	t.Parallel()
	p := NewPaper(noLTP, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res := p.SellMarket(context.Background(), "NSE_FNO", "44443", 75)
	if res.OK || !errors.Is(res.Err, types.ErrInvalidPrice) {
		t.Fatalf("result = %+v, want ErrInvalidPrice", res)
	}
}

func liveAgainst(t *testing.T, handler http.Handler) *Live {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.BrokerConfig{
		BaseURL:     srv.URL,
		Timeout:     2 * time.Second,
		RetryCount:  2,
		ClientID:    "client-1",
		AccessToken: "token-1",
	}
	return NewLive(cfg, fixedLTP(100), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLivePlacesAndConfirmsFill(t *testing.T) {
	t.Parallel()
	var gotOrder orderRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("access-token") != "token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotOrder)
		json.NewEncoder(w).Encode(orderResponse{OrderID: "112233", OrderStatus: "TRADED"})
	})
	mux.HandleFunc("GET /v2/orders/112233", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(orderDetail{
			OrderID: "112233", OrderStatus: "TRADED", AverageTradedPrice: 104.5, FilledQty: 75,
		})
	})

	l := liveAgainst(t, mux)
	res := l.BuyMarket(context.Background(), "NSE_FNO", "44443", 75)
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if res.OrderID != "112233" || !res.FilledPrice.Equal(money.FromFloat(104.5)) || res.FilledQty != 75 {
		t.Errorf("fill = %+v", res)
	}
	if gotOrder.TransactionType != "BUY" || gotOrder.OrderType != "MARKET" || gotOrder.ProductType != "INTRADAY" {
		t.Errorf("order payload = %+v", gotOrder)
	}
}

func TestLiveFallsBackToCachedPriceWhenDetailLags(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/orders", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(orderResponse{OrderID: "445566", OrderStatus: "TRANSIT"})
	})
	mux.HandleFunc("GET /v2/orders/445566", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(orderDetail{OrderID: "445566", OrderStatus: "TRANSIT"})
	})

	l := liveAgainst(t, mux)
	res := l.SellMarket(context.Background(), "NSE_FNO", "44443", 75)
	if !res.OK || !res.FilledPrice.Equal(money.New(100)) {
		t.Errorf("result = %+v, want cached price 100", res)
	}
}

func TestLiveClassifiesServerErrorsTransient(t *testing.T) {
	t.Parallel()
	l := liveAgainst(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	res := l.BuyMarket(context.Background(), "NSE_FNO", "44443", 75)
	if res.OK || !types.IsTransientBroker(res.Err) {
		t.Fatalf("result = %+v, want transient broker error", res)
	}
}

func TestLiveClassifiesRejectionPermanent(t *testing.T) {
	t.Parallel()
	l := liveAgainst(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	res := l.BuyMarket(context.Background(), "NSE_FNO", "44443", 75)
	if res.OK || res.Err == nil {
		t.Fatal("expected rejection")
	}
	if types.IsTransientBroker(res.Err) {
		t.Errorf("err = %v classified transient, want permanent", res.Err)
	}
}

func TestLiveFunds(t *testing.T) {
	t.Parallel()
	l := liveAgainst(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/fundlimit" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(fundsResponse{AvailableBalance: 182340.50, UtilizedAmount: 17659.50})
	}))

	funds, err := l.Funds(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !funds.Available.Equal(money.FromFloat(182340.50)) || !funds.Used.Equal(money.FromFloat(17659.50)) {
		t.Errorf("funds = %+v", funds)
	}
}
