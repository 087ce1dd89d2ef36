package indicators

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

func candles(start float64, slope float64, n int) []types.Candle {
	out := make([]types.Candle, n)
	ts := time.Date(2026, 8, 25, 9, 15, 0, 0, time.UTC)
	for i := range out {
		c := start + slope*float64(i)
		out[i] = types.Candle{
			Timestamp: ts.Add(time.Duration(i) * 5 * time.Minute),
			Open:      c - slope/2,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func series(cs []types.Candle) *Series {
	return NewSeries(5*time.Minute, cs, 0)
}

func TestEMA(t *testing.T) {
	t.Parallel()
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	out := EMA(values, 3)

	if !math.IsNaN(out[1]) {
		t.Errorf("out[1] = %v, want NaN before seed", out[1])
	}
	if out[2] != 2 {
		t.Errorf("seed = %v, want simple average 2", out[2])
	}
	if got := last(out); got != 9 {
		t.Errorf("last = %v, want 9", got)
	}

	if got := EMA([]float64{1, 2}, 3); !math.IsNaN(last(got)) {
		t.Error("series shorter than period must stay NaN")
	}
}

func TestRSIExtremes(t *testing.T) {
	t.Parallel()
	up := make([]float64, 30)
	down := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 100 - float64(i)
	}

	if got := last(RSI(up, 14)); got != 100 {
		t.Errorf("RSI of pure uptrend = %v, want 100", got)
	}
	if got := last(RSI(down, 14)); got != 0 {
		t.Errorf("RSI of pure downtrend = %v, want 0", got)
	}
}

func TestADXStrongTrend(t *testing.T) {
	t.Parallel()
	cs := candles(100, 1, 60)
	high, low, close := series(cs).Snapshot()

	adx := last(ADX(high, low, close, 14))
	if math.IsNaN(adx) || adx < 25 {
		t.Errorf("ADX of steady trend = %v, want ≥ 25", adx)
	}

	short := ADX(high[:20], low[:20], close[:20], 14)
	if !math.IsNaN(last(short)) {
		t.Error("ADX must be NaN without 2·period bars")
	}
}

func TestSupertrendDirection(t *testing.T) {
	t.Parallel()
	upH, upL, upC := series(candles(100, 1, 60)).Snapshot()
	_, up := Supertrend(upH, upL, upC, 10, 3)
	if !up[len(up)-1] {
		t.Error("uptrend not flagged as up")
	}

	dnH, dnL, dnC := series(candles(200, -1, 60)).Snapshot()
	_, dn := Supertrend(dnH, dnL, dnC, 10, 3)
	if dn[len(dn)-1] {
		t.Error("downtrend flagged as up")
	}
}

func TestSeriesBarBuilding(t *testing.T) {
	t.Parallel()
	s := NewSeries(5*time.Minute, nil, 0)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	s.UpdateFromTick(100, 10, base.Add(10*time.Second))
	s.UpdateFromTick(103, 10, base.Add(70*time.Second))
	s.UpdateFromTick(99, 10, base.Add(2*time.Minute))
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want single forming bar", s.Len())
	}
	c, _ := s.Last()
	if c.Open != 100 || c.High != 103 || c.Low != 99 || c.Close != 99 || c.Volume != 30 {
		t.Errorf("bar = %+v", c)
	}

	// Crossing the interval boundary seals the bar.
	s.UpdateFromTick(101, 5, base.Add(5*time.Minute+time.Second))
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2 after boundary", s.Len())
	}
	c, _ = s.Last()
	if c.Open != 101 || c.Close != 101 {
		t.Errorf("new bar = %+v", c)
	}
}

func TestSeriesMaxBars(t *testing.T) {
	t.Parallel()
	s := NewSeries(time.Minute, candles(100, 1, 10), 5)
	if s.Len() != 5 {
		t.Errorf("Len = %d, want trimmed to 5", s.Len())
	}
}

func TestEvaluateBullishBothTimeframes(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultParams(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	sig := e.Evaluate(series(candles(100, 1, 60)), series(candles(100, 1, 60)))
	if sig.Direction != types.Bullish || !sig.Proceed {
		t.Errorf("signal = %+v, want bullish proceed", sig)
	}
	if sig.ADX < DefaultParams().ADXMinPrimary {
		t.Errorf("ADX = %v below gate", sig.ADX)
	}
	if sig.Strength <= 0 || sig.Strength > 1 {
		t.Errorf("Strength = %v, want (0,1]", sig.Strength)
	}
}

func TestEvaluateBearish(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultParams(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	sig := e.Evaluate(series(candles(300, -1, 60)), series(candles(300, -1, 60)))
	if sig.Direction != types.Bearish || !sig.Proceed {
		t.Errorf("signal = %+v, want bearish proceed", sig)
	}
}

func TestEvaluateShortSeries(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultParams(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	sig := e.Evaluate(series(candles(100, 1, 10)), series(candles(100, 1, 10)))
	if sig.Direction != types.None || sig.Proceed {
		t.Errorf("signal = %+v, want none without warm-up", sig)
	}
}

func TestEvaluateTimeframeDisagreement(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultParams(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	sig := e.Evaluate(series(candles(100, 1, 60)), series(candles(100, 0, 60)))
	if sig.Direction != types.Bullish {
		t.Errorf("Direction = %v, want primary bullish", sig.Direction)
	}
	if sig.Proceed {
		t.Error("Proceed must be false when the secondary disagrees")
	}
}

func TestEvaluatePrimaryOnly(t *testing.T) {
	t.Parallel()
	params := DefaultParams()
	params.UseSecondary = false
	e := NewEngine(params, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sig := e.Evaluate(series(candles(100, 1, 60)), nil)
	if sig.Direction != types.Bullish || !sig.Proceed {
		t.Errorf("signal = %+v, want bullish proceed without secondary", sig)
	}
}
