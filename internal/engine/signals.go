package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/history"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/indicators"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// SignalSource produces the current verdict for an underlying.
type SignalSource interface {
	Evaluate(symbol string) types.Signal
}

// SignalHub owns the candle series per underlying and timeframe. Index
// ticks from the feed extend the forming bars; Evaluate reads the latest
// composite verdict.
type SignalHub struct {
	engine *indicators.Engine
	logger *slog.Logger

	mu        sync.RWMutex
	primary   map[string]*indicators.Series
	secondary map[string]*indicators.Series
	bySID     map[types.InstrumentKey]string
}

var _ SignalSource = (*SignalHub)(nil)

// NewSignalHub creates an empty hub.
func NewSignalHub(engine *indicators.Engine, logger *slog.Logger) *SignalHub {
	return &SignalHub{
		engine:    engine,
		logger:    logger.With("component", "signal_hub"),
		primary:   make(map[string]*indicators.Series),
		secondary: make(map[string]*indicators.Series),
		bySID:     make(map[types.InstrumentKey]string),
	}
}

// Register binds an underlying's index instrument to its candle series.
// The secondary series may be nil when single-timeframe mode is configured.
func (h *SignalHub) Register(symbol string, indexKey types.InstrumentKey, primary, secondary *indicators.Series) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.primary[symbol] = primary
	h.secondary[symbol] = secondary
	h.bySID[indexKey] = symbol
}

// Warmup seeds every registered series with historical candles. A failed
// fetch leaves that series empty; the engine then reports direction none
// until live bars accumulate.
func (h *SignalHub) Warmup(ctx context.Context, loader *history.Loader, primaryInterval, secondaryInterval string) {
	h.mu.RLock()
	keys := make(map[types.InstrumentKey]string, len(h.bySID))
	for k, sym := range h.bySID {
		keys[k] = sym
	}
	h.mu.RUnlock()

	for key, symbol := range keys {
		h.warmupSeries(ctx, loader, key, symbol, primaryInterval, h.series(symbol, true))
		if s := h.series(symbol, false); s != nil {
			h.warmupSeries(ctx, loader, key, symbol, secondaryInterval, s)
		}
	}
}

func (h *SignalHub) warmupSeries(ctx context.Context, loader *history.Loader, key types.InstrumentKey, symbol, interval string, s *indicators.Series) {
	if s == nil {
		return
	}
	candles, err := loader.Intraday(ctx, key.Segment, key.SecurityID, interval)
	if err != nil {
		h.logger.Warn("warm-up fetch failed", "symbol", symbol, "interval", interval, "error", err)
		return
	}
	s.Seed(candles)
}

func (h *SignalHub) series(symbol string, primary bool) *indicators.Series {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if primary {
		return h.primary[symbol]
	}
	return h.secondary[symbol]
}

// OnTick folds an index tick into the underlying's candle series. Ticks for
// unregistered instruments are ignored.
func (h *SignalHub) OnTick(t types.Tick) {
	h.mu.RLock()
	symbol, ok := h.bySID[t.Key()]
	if !ok {
		h.mu.RUnlock()
		return
	}
	p, s := h.primary[symbol], h.secondary[symbol]
	h.mu.RUnlock()

	price := t.LTP.Float64()
	at := t.ServerTimestamp
	if at.IsZero() {
		at = time.Now()
	}
	if p != nil {
		p.UpdateFromTick(price, t.Volume, at)
	}
	if s != nil {
		s.UpdateFromTick(price, t.Volume, at)
	}
}

// Evaluate returns the current verdict for the underlying.
func (h *SignalHub) Evaluate(symbol string) types.Signal {
	return h.engine.Evaluate(h.series(symbol, true), h.series(symbol, false))
}
