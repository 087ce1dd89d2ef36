// Package ticks holds the canonical in-memory view of the latest tick per
// instrument. The feed dispatcher is the single writer per key; everything
// else (entry/exit loops, paper broker, CLI projections) reads.
//
// Writes are last-writer-wins guarded by server timestamp: a put whose
// server_timestamp is older than the stored tick is a no-op, so replaying a
// stream out of order converges on the newest tick.
package ticks

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/store"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// microTTL bounds the process-local hot-path cache in front of the map.
const microTTL = 500 * time.Millisecond

// Stats reports cache activity counters.
type Stats struct {
	Size     int
	Puts     uint64
	Rejected uint64 // dropped as out-of-order
	Hits     uint64
	Misses   uint64
}

type microEntry struct {
	ltp money.Money
	at  time.Time
}

// Cache is the concurrent tick cache with an optional durable mirror.
type Cache struct {
	mu    sync.RWMutex
	ticks map[types.InstrumentKey]types.Tick

	microMu sync.RWMutex
	micro   map[types.InstrumentKey]microEntry

	stats struct {
		puts, rejected, hits, misses uint64
	}

	// Optional write-through mirror for crash recovery.
	mirrorCh chan types.Tick
	logger   *slog.Logger
}

// Option configures the cache.
type Option func(*Cache)

// WithMirror enables background write-through of every accepted put to the
// durable store (tick hash plus the shared LTP snapshot, both with the
// 5-minute recovery TTL). Mirror failures degrade silently to memory-only.
func WithMirror(ctx context.Context, st store.Store, keys store.Keys) Option {
	return func(c *Cache) {
		c.mirrorCh = make(chan types.Tick, 256)
		go c.mirrorLoop(ctx, st, keys)
	}
}

// New creates an empty cache.
func New(logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		ticks:  make(map[types.InstrumentKey]types.Tick),
		micro:  make(map[types.InstrumentKey]microEntry),
		logger: logger.With("component", "tick_cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores the tick unless a newer one is already present.
// Returns true when the tick was accepted.
func (c *Cache) Put(tick types.Tick) bool {
	key := tick.Key()

	c.mu.Lock()
	if cur, ok := c.ticks[key]; ok && tick.ServerTimestamp.Before(cur.ServerTimestamp) {
		c.stats.rejected++
		c.mu.Unlock()
		return false
	}
	c.ticks[key] = tick
	c.stats.puts++
	c.mu.Unlock()

	c.microMu.Lock()
	c.micro[key] = microEntry{ltp: tick.LTP, at: time.Now()}
	c.microMu.Unlock()

	if c.mirrorCh != nil {
		select {
		case c.mirrorCh <- tick:
		default:
			// Mirror is best-effort; never stall the dispatcher.
		}
	}
	return true
}

// Get returns the latest tick for an instrument.
func (c *Cache) Get(segment, securityID string) (types.Tick, bool) {
	key := types.InstrumentKey{Segment: segment, SecurityID: securityID}

	c.mu.RLock()
	tick, ok := c.ticks[key]
	if ok {
		c.stats.hits++
	} else {
		c.stats.misses++
	}
	c.mu.RUnlock()
	return tick, ok
}

// LTP returns the last traded price, consulting the short-TTL micro-cache
// before the main map.
func (c *Cache) LTP(segment, securityID string) (money.Money, bool) {
	key := types.InstrumentKey{Segment: segment, SecurityID: securityID}

	c.microMu.RLock()
	if e, ok := c.micro[key]; ok && time.Since(e.at) <= microTTL {
		c.microMu.RUnlock()
		return e.ltp, true
	}
	c.microMu.RUnlock()

	tick, ok := c.Get(segment, securityID)
	if !ok {
		return money.Zero, false
	}
	return tick.LTP, true
}

// Fresh reports whether the stored tick was received within maxAge.
func (c *Cache) Fresh(segment, securityID string, maxAge time.Duration) bool {
	tick, ok := c.Get(segment, securityID)
	return ok && time.Since(tick.ReceivedAt) <= maxAge
}

// Clear drops all entries. Used on session rollover.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.ticks = make(map[types.InstrumentKey]types.Tick)
	c.mu.Unlock()

	c.microMu.Lock()
	c.micro = make(map[types.InstrumentKey]microEntry)
	c.microMu.Unlock()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:     len(c.ticks),
		Puts:     c.stats.puts,
		Rejected: c.stats.rejected,
		Hits:     c.stats.hits,
		Misses:   c.stats.misses,
	}
}

func (c *Cache) mirrorLoop(ctx context.Context, st store.Store, keys store.Keys) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-c.mirrorCh:
			key := keys.Tick(tick.Segment, tick.SecurityID)
			fields := map[string]string{
				"ltp":              tick.LTP.String(),
				"atp":              tick.ATP.String(),
				"day_high":         tick.DayHigh.String(),
				"day_low":          tick.DayLow.String(),
				"volume":           strconv.FormatInt(tick.Volume, 10),
				"server_timestamp": tick.ServerTimestamp.Format(time.RFC3339Nano),
			}
			if err := st.HSet(ctx, key, fields); err != nil {
				c.logger.Debug("tick mirror write failed", "key", key, "error", err)
				continue
			}
			st.Expire(ctx, key, store.SnapshotTTL)

			snap := keys.LTPSnapshot()
			if err := st.HSet(ctx, snap, map[string]string{
				tick.Segment + ":" + tick.SecurityID: tick.LTP.String(),
			}); err == nil {
				st.Expire(ctx, snap, store.SnapshotTTL)
			}
		}
	}
}
