package indicators

import (
	"log/slog"
	"math"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Params tunes the signal composites.
type Params struct {
	EMAFast   int
	EMASlow   int
	RSIPeriod int
	RSIBull   float64 // RSI must exceed this for a bullish read
	RSIBear   float64 // RSI must be below this for a bearish read

	ADXPeriod       int
	ADXMinPrimary   float64
	ADXMinSecondary float64

	SupertrendPeriod     int
	SupertrendMultiplier float64

	UseEnhanced  bool // gate on ADX and Supertrend confirmation
	UseSecondary bool // require the secondary timeframe to agree
}

// DefaultParams are the standard intraday settings.
func DefaultParams() Params {
	return Params{
		EMAFast:              9,
		EMASlow:              21,
		RSIPeriod:            14,
		RSIBull:              55,
		RSIBear:              45,
		ADXPeriod:            14,
		ADXMinPrimary:        15,
		ADXMinSecondary:      12,
		SupertrendPeriod:     10,
		SupertrendMultiplier: 3,
		UseEnhanced:          true,
		UseSecondary:         true,
	}
}

// Engine evaluates candle series into a directional verdict.
type Engine struct {
	params Params
	logger *slog.Logger
}

// NewEngine creates a signal engine.
func NewEngine(params Params, logger *slog.Logger) *Engine {
	return &Engine{params: params, logger: logger.With("component", "indicator_engine")}
}

// minBars is the largest trailing window any composite indicator needs.
func (e *Engine) minBars() int {
	n := e.params.EMASlow
	if e.params.RSIPeriod+1 > n {
		n = e.params.RSIPeriod + 1
	}
	if e.params.UseEnhanced {
		if adx := 2*e.params.ADXPeriod + 1; adx > n {
			n = adx
		}
		if st := e.params.SupertrendPeriod + 1; st > n {
			n = st
		}
	}
	return n
}

// Evaluate returns the verdict for the primary series, gated by the
// secondary when configured. A series shorter than the largest window
// yields direction none with proceed false.
func (e *Engine) Evaluate(primary, secondary *Series) types.Signal {
	verdictP := e.read(primary, e.params.ADXMinPrimary)
	if verdictP.direction == types.None {
		return types.Signal{Direction: types.None, ADX: verdictP.adx}
	}

	signal := types.Signal{
		Direction: verdictP.direction,
		Strength:  verdictP.strength,
		ADX:       verdictP.adx,
		Proceed:   verdictP.gated,
	}

	if e.params.UseSecondary {
		if secondary == nil {
			signal.Proceed = false
			return signal
		}
		verdictS := e.read(secondary, e.params.ADXMinSecondary)
		if verdictS.direction != verdictP.direction || !verdictS.gated {
			signal.Proceed = false
		}
		signal.Strength = (verdictP.strength + verdictS.strength) / 2
	}
	return signal
}

type verdict struct {
	direction types.Direction
	strength  float64
	adx       float64
	gated     bool // ADX/Supertrend confirmation passed (always true for Basic)
}

func (e *Engine) read(s *Series, adxMin float64) verdict {
	if s == nil || s.Len() < e.minBars() {
		return verdict{direction: types.None}
	}

	high, low, close := s.Snapshot()

	emaFast := last(EMA(close, e.params.EMAFast))
	emaSlow := last(EMA(close, e.params.EMASlow))
	rsi := last(RSI(close, e.params.RSIPeriod))
	if math.IsNaN(emaFast) || math.IsNaN(emaSlow) || math.IsNaN(rsi) {
		return verdict{direction: types.None}
	}

	var dir types.Direction
	switch {
	case emaFast > emaSlow && rsi > e.params.RSIBull:
		dir = types.Bullish
	case emaFast < emaSlow && rsi < e.params.RSIBear:
		dir = types.Bearish
	default:
		return verdict{direction: types.None}
	}

	v := verdict{direction: dir, gated: true}
	v.strength = e.crossoverStrength(emaFast, emaSlow, rsi, dir)

	if !e.params.UseEnhanced {
		return v
	}

	adx := last(ADX(high, low, close, e.params.ADXPeriod))
	_, stUp := Supertrend(high, low, close, e.params.SupertrendPeriod, e.params.SupertrendMultiplier)
	v.adx = adx

	if math.IsNaN(adx) || adx < adxMin {
		v.gated = false
		return v
	}
	trendUp := len(stUp) > 0 && stUp[len(stUp)-1]
	if (dir == types.Bullish && !trendUp) || (dir == types.Bearish && trendUp) {
		v.gated = false
	}
	return v
}

// crossoverStrength maps EMA separation and RSI distance from neutral into
// a 0..1 confidence.
func (e *Engine) crossoverStrength(emaFast, emaSlow, rsi float64, dir types.Direction) float64 {
	sep := math.Abs(emaFast-emaSlow) / emaSlow * 100 // percent separation
	if sep > 1 {
		sep = 1
	}

	var rsiEdge float64
	if dir == types.Bullish {
		rsiEdge = (rsi - 50) / 50
	} else {
		rsiEdge = (50 - rsi) / 50
	}
	if rsiEdge < 0 {
		rsiEdge = 0
	}
	return (sep + rsiEdge) / 2
}
