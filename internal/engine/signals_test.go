package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/indicators"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

func trendCandles(start float64, slope float64, n int) []types.Candle {
	base := time.Date(2026, 8, 25, 9, 15, 0, 0, time.UTC)
	out := make([]types.Candle, n)
	price := start
	for i := range out {
		next := price + slope
		hi, lo := price, next
		if slope < 0 {
			hi, lo = next, price
		}
		out[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price, High: hi + 1, Low: lo - 1, Close: next,
			Volume: 1000,
		}
		price = next
	}
	return out
}

func newTrendHub(t *testing.T) (*SignalHub, types.InstrumentKey) {
	t.Helper()
	eng := indicators.NewEngine(indicators.Params{
		EMAFast: 3, EMASlow: 5,
		RSIPeriod: 5, RSIBull: 55, RSIBear: 45,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	hub := NewSignalHub(eng, slog.New(slog.NewTextHandler(io.Discard, nil)))

	key := types.InstrumentKey{Segment: "IDX_I", SecurityID: "13"}
	primary := indicators.NewSeries(time.Minute, trendCandles(24000, 10, 40), 0)
	hub.Register("NIFTY", key, primary, nil)
	return hub, key
}

func TestHubEvaluateTrendingSeries(t *testing.T) {
	t.Parallel()
	hub, _ := newTrendHub(t)

	sig := hub.Evaluate("NIFTY")
	if sig.Direction != types.Bullish || !sig.Proceed {
		t.Errorf("signal = %+v, want bullish proceed", sig)
	}
}

func TestHubIgnoresUnregisteredTicks(t *testing.T) {
	t.Parallel()
	hub, key := newTrendHub(t)

	before := hub.Evaluate("NIFTY")
	hub.OnTick(types.Tick{
		Segment: "NSE_FNO", SecurityID: "44443",
		LTP:             money.New(1),
		ServerTimestamp: time.Now(),
	})
	if after := hub.Evaluate("NIFTY"); after != before {
		t.Errorf("option tick changed the index verdict: %+v → %+v", before, after)
	}

	// A registered index tick does reach the series.
	n := 40
	hub.OnTick(types.Tick{
		Segment: key.Segment, SecurityID: key.SecurityID,
		LTP:             money.New(24500),
		ServerTimestamp: time.Date(2026, 8, 25, 9, 15, 0, 0, time.UTC).Add(time.Duration(n+1) * time.Minute),
	})
	hub.OnTick(types.Tick{
		Segment: key.Segment, SecurityID: key.SecurityID,
		LTP:             money.New(24510),
		ServerTimestamp: time.Date(2026, 8, 25, 9, 15, 0, 0, time.UTC).Add(time.Duration(n+2) * time.Minute),
	})
	if sig := hub.Evaluate("NIFTY"); sig.Direction != types.Bullish {
		t.Errorf("verdict after live ticks = %+v", sig)
	}
}

func TestHubEvaluateUnknownSymbol(t *testing.T) {
	t.Parallel()
	hub, _ := newTrendHub(t)
	if sig := hub.Evaluate("BANKNIFTY"); sig.Direction != types.None || sig.Proceed {
		t.Errorf("unknown symbol verdict = %+v, want none", sig)
	}
}
