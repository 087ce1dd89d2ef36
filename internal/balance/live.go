package balance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// fundsTTL is how long a broker funds fetch stays authoritative.
const fundsTTL = 30 * time.Second

// Funds is the broker funds snapshot.
type Funds struct {
	Available money.Money
	Used      money.Money
}

// FundsFetcher reads the broker funds endpoint.
type FundsFetcher interface {
	Funds(ctx context.Context) (Funds, error)
}

// Live proxies the broker funds endpoint with a TTL cache. On fetch failure
// it keeps serving the last known good values; if the very first fetch
// fails it seeds the provided defaults so the caller can degrade instead of
// aborting the session.
type Live struct {
	fetcher  FundsFetcher
	defaults Funds
	logger   *slog.Logger

	mu        sync.Mutex
	funds     Funds
	fetchedAt time.Time
	seeded    bool
	realized  money.Money

	// local deltas applied since the last authoritative fetch, so
	// intra-TTL trades are reflected immediately.
	pendingAvail money.Money
	pendingUsed  money.Money
}

var _ Provider = (*Live)(nil)

// NewLive creates a live funds proxy.
func NewLive(fetcher FundsFetcher, defaults Funds, logger *slog.Logger) *Live {
	return &Live{
		fetcher:  fetcher,
		defaults: defaults,
		logger:   logger.With("component", "balance_live"),
	}
}

// refreshLocked re-fetches funds when the cache is past its TTL.
// Caller holds l.mu.
func (l *Live) refreshLocked() {
	if l.seeded && time.Since(l.fetchedAt) < fundsTTL {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	funds, err := l.fetcher.Funds(ctx)
	if err != nil {
		if !l.seeded {
			l.logger.Warn("initial funds fetch failed, seeding defaults", "error", err)
			l.funds = l.defaults
			l.seeded = true
			l.fetchedAt = time.Now()
			return
		}
		l.logger.Warn("funds fetch failed, keeping last known values",
			"error", err, "age", time.Since(l.fetchedAt))
		return
	}

	l.funds = funds
	l.pendingAvail = money.Zero
	l.pendingUsed = money.Zero
	l.seeded = true
	l.fetchedAt = time.Now()
}

func (l *Live) Available() money.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshLocked()
	return l.funds.Available.Add(l.pendingAvail)
}

func (l *Live) Used() money.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshLocked()
	used := l.funds.Used.Add(l.pendingUsed)
	if used.IsNegative() {
		return money.Zero
	}
	return used
}

func (l *Live) Total() money.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshLocked()
	return l.funds.Available.Add(l.pendingAvail).Add(l.funds.Used.Add(l.pendingUsed).Max(money.Zero))
}

func (l *Live) RealizedPnL() money.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}

// Update applies a local delta on top of the cached broker values so the
// wallet reflects a fill before the next authoritative fetch.
func (l *Live) Update(amount money.Money, kind Kind) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshLocked()

	switch kind {
	case Debit:
		if l.funds.Available.Add(l.pendingAvail).LessThan(amount) {
			return types.ErrInsufficientBalance
		}
		l.pendingAvail = l.pendingAvail.Sub(amount)
		l.pendingUsed = l.pendingUsed.Add(amount)
	case Credit:
		l.pendingAvail = l.pendingAvail.Add(amount)
		l.pendingUsed = l.pendingUsed.Sub(amount)
	}
	return nil
}

func (l *Live) AddRealizedPnL(amount money.Money) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.realized = l.realized.Add(amount)
}

// Reset forces a re-fetch on next read; the seed amount is only used if the
// broker remains unreachable.
func (l *Live) Reset(amount money.Money) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaults = Funds{Available: amount}
	l.pendingAvail = money.Zero
	l.pendingUsed = money.Zero
	l.realized = money.Zero
	l.seeded = false
}
