// Package indicators turns candle series into trade signals. The math
// follows Wilder's smoothing for RSI/ADX and the standard ATR-band
// construction for Supertrend; the engine composes them into a directional
// verdict with a proceed gate.
package indicators

import (
	"sync"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Series is an append-only candle window for one instrument and interval.
// Live ticks extend the forming bar in place; a tick past the bar boundary
// seals it and opens the next.
type Series struct {
	mu       sync.RWMutex
	interval time.Duration
	candles  []types.Candle
	maxBars  int
}

// NewSeries creates a series seeded with warm-up candles. maxBars bounds
// memory; older bars are discarded.
func NewSeries(interval time.Duration, warmup []types.Candle, maxBars int) *Series {
	if maxBars <= 0 {
		maxBars = 500
	}
	s := &Series{interval: interval, maxBars: maxBars}
	s.candles = append(s.candles, warmup...)
	s.trim()
	return s
}

// Seed prepends warm-up candles. Bars at or after the first live bar are
// ignored so history cannot overwrite live data.
func (s *Series) Seed(candles []types.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.candles) == 0 {
		s.candles = append(s.candles, candles...)
		s.trim()
		return
	}
	first := s.candles[0].Timestamp
	var older []types.Candle
	for _, c := range candles {
		if c.Timestamp.Before(first) {
			older = append(older, c)
		}
	}
	s.candles = append(older, s.candles...)
	s.trim()
}

// UpdateFromTick folds a live trade into the forming candle.
func (s *Series) UpdateFromTick(price float64, volume int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := at.Truncate(s.interval)
	n := len(s.candles)
	if n > 0 && s.candles[n-1].Timestamp.Equal(bucket) {
		c := &s.candles[n-1]
		if price > c.High {
			c.High = price
		}
		if price < c.Low {
			c.Low = price
		}
		c.Close = price
		c.Volume += volume
		return
	}

	s.candles = append(s.candles, types.Candle{
		Timestamp: bucket,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
	})
	s.trim()
}

func (s *Series) trim() {
	if len(s.candles) > s.maxBars {
		s.candles = s.candles[len(s.candles)-s.maxBars:]
	}
}

// Len returns the bar count.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// Snapshot returns copies of the OHLC columns.
func (s *Series) Snapshot() (high, low, close []float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	high = make([]float64, len(s.candles))
	low = make([]float64, len(s.candles))
	close = make([]float64, len(s.candles))
	for i, c := range s.candles {
		high[i], low[i], close[i] = c.High, c.Low, c.Close
	}
	return high, low, close
}

// Last returns the most recent candle.
func (s *Series) Last() (types.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return types.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}
