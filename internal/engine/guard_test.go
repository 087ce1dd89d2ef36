package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
)

func newTestGuard(t *testing.T, total money.Money, lastTick time.Time) *SessionGuard {
	t.Helper()
	g, err := NewSessionGuard(
		config.SessionConfig{
			Location:    "UTC",
			MarketOpen:  "09:15",
			MarketClose: "15:30",
			Grace:       5 * time.Minute,
		},
		money.New(5000),
		money.New(10000),
		time.Minute,
		func() money.Money { return total },
		func() time.Time { return lastTick },
	)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func at(clock string) time.Time {
	ts, err := time.Parse(time.RFC3339, "2026-08-25T"+clock+"Z")
	if err != nil {
		panic(err)
	}
	return ts
}

func TestGuardMarketWindow(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		clock string
		want  GuardStatus
	}{
		{"before open", "09:14:59", GuardMarketClosed},
		{"at open", "09:15:00", GuardOK},
		{"midday", "12:00:00", GuardOK},
		{"at close", "15:30:00", GuardOK},
		{"inside grace", "15:34:59", GuardOK},
		{"past grace", "15:35:01", GuardMarketClosed},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			now := at(tc.clock)
			g := newTestGuard(t, money.Zero, now)
			g.now = func() time.Time { return now }
			if got := g.Check(); got != tc.want {
				t.Errorf("Check() at %s = %q, want %q", tc.clock, got, tc.want)
			}
		})
	}
}

func TestGuardDayLossLimit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		total int64
		want  GuardStatus
	}{
		{"flat", 0, GuardOK},
		{"profit", 3000, GuardOK},
		{"loss under limit", -4999, GuardOK},
		{"loss at limit", -5000, GuardDayLoss},
		{"loss past limit", -6000, GuardDayLoss},
		{"profit at target", 10000, GuardProfitTarget},
		{"profit past target", 12000, GuardProfitTarget},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			now := at("12:00:00")
			g := newTestGuard(t, money.New(tc.total), now)
			g.now = func() time.Time { return now }
			if got := g.Check(); got != tc.want {
				t.Errorf("Check() with total %d = %q, want %q", tc.total, got, tc.want)
			}
		})
	}
}

func TestGuardFeedStale(t *testing.T) {
	t.Parallel()
	now := at("12:00:00")

	g := newTestGuard(t, money.Zero, now.Add(-2*time.Minute))
	g.now = func() time.Time { return now }
	if got := g.Check(); got != GuardFeedStale {
		t.Errorf("stale feed = %q, want %q", got, GuardFeedStale)
	}

	// A feed that never ticked is stale too.
	g = newTestGuard(t, money.Zero, time.Time{})
	g.now = func() time.Time { return now }
	if got := g.Check(); got != GuardFeedStale {
		t.Errorf("never-ticked feed = %q, want %q", got, GuardFeedStale)
	}
}

func TestGuardPanicOutranksEverything(t *testing.T) {
	t.Parallel()
	// Outside the window and past the loss limit, panic still wins.
	now := at("03:00:00")
	g := newTestGuard(t, money.New(-9000), time.Time{})
	g.now = func() time.Time { return now }
	g.panicked = func() bool { return true }
	if got := g.Check(); got != GuardPanic {
		t.Errorf("Check() = %q, want %q", got, GuardPanic)
	}
}

func TestSupervisorHaltsOnDayLoss(t *testing.T) {
	t.Parallel()
	f := newEngFixture(t, 100000)
	f.openPosition(t)

	guard, err := NewSessionGuard(
		config.SessionConfig{
			Location:    "UTC",
			MarketOpen:  "00:00",
			MarketClose: "23:59",
			Grace:       time.Minute,
		},
		money.New(5000),
		money.Zero,
		time.Minute,
		f.pnl.Total,
		func() time.Time { return time.Now() },
	)
	if err != nil {
		t.Fatal(err)
	}

	sup := NewSupervisor(f.cfg, guard, f.entry, f.exit, f.pnl, f.tracker,
		f.wallet, f.cache, f.st, f.keys, f.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Healthy tick: position stays, heartbeat lands.
	sup.Tick(context.Background())
	if len(f.tracker.ListOpen()) != 1 {
		t.Fatal("healthy tick closed the position")
	}
	if hb, err := f.st.Get(context.Background(), f.keys.Heartbeat()); err != nil || hb == "" {
		t.Errorf("heartbeat = %q, %v", hb, err)
	}

	// Push the session past the loss limit; the next tick flattens.
	f.wallet.AddRealizedPnL(money.New(-6000))
	sup.Tick(context.Background())
	if len(f.tracker.ListOpen()) != 0 {
		t.Fatal("day-loss halt left positions open")
	}
	if len(f.notifier.halted) != 1 || f.notifier.halted[0] != string(GuardDayLoss) {
		t.Errorf("halt notifications = %v", f.notifier.halted)
	}
	if f.notifier.closed[0].Reason != ExitSession {
		t.Errorf("halt exit reason = %q", f.notifier.closed[0].Reason)
	}

	// Still halted: no repeat notification, no new entries.
	sup.Tick(context.Background())
	if len(f.notifier.halted) != 1 {
		t.Errorf("halt renotified: %v", f.notifier.halted)
	}
	if len(f.tracker.ListOpen()) != 0 {
		t.Error("entries resumed while halted")
	}
}

func TestSupervisorRetriesHaltFlatten(t *testing.T) {
	t.Parallel()
	f := newEngFixture(t, 100000)
	f.openPosition(t)

	guard, err := NewSessionGuard(
		config.SessionConfig{
			Location:    "UTC",
			MarketOpen:  "00:00",
			MarketClose: "23:59",
			Grace:       time.Minute,
		},
		money.New(5000),
		money.Zero,
		time.Minute,
		f.pnl.Total,
		func() time.Time { return time.Now() },
	)
	if err != nil {
		t.Fatal(err)
	}

	sup := NewSupervisor(f.cfg, guard, f.entry, f.exit, f.pnl, f.tracker,
		f.wallet, f.cache, f.st, f.keys, f.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Trip the loss limit with no option price available: the flatten
	// order is rejected and the position stays open.
	f.cache.Clear()
	f.wallet.AddRealizedPnL(money.New(-6000))
	sup.Tick(context.Background())
	if len(f.tracker.ListOpen()) != 1 {
		t.Fatal("rejected flatten should leave the position open")
	}
	if f.broker.sells != 1 {
		t.Fatalf("sell attempts = %d, want 1", f.broker.sells)
	}

	// Price returns and the dedup window lapses: the next halted tick
	// retries the flatten.
	f.putTick("NSE_FNO", "44443", 60)
	f.exit.mu.Lock()
	for k := range f.exit.recent {
		f.exit.recent[k] = time.Now().Add(-exitDedupWindow - time.Second)
	}
	f.exit.mu.Unlock()

	sup.Tick(context.Background())
	if len(f.tracker.ListOpen()) != 0 {
		t.Fatal("halted tick did not retry the flatten")
	}
	if f.broker.sells != 2 {
		t.Errorf("sell attempts = %d, want 2", f.broker.sells)
	}
	if len(f.notifier.halted) != 1 {
		t.Errorf("halt renotified: %v", f.notifier.halted)
	}
}
