// Package engine runs the trading session: the decision-tick supervisor,
// entry and exit managers, the session guard, and P&L aggregation.
package engine

import (
	"fmt"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
)

// GuardStatus is the session-level go/no-go verdict.
type GuardStatus string

const (
	GuardOK           GuardStatus = "ok"
	GuardMarketClosed GuardStatus = "market_closed"
	GuardDayLoss      GuardStatus = "day_loss_limit"
	GuardProfitTarget GuardStatus = "profit_target"
	GuardFeedStale    GuardStatus = "feed_stale"
	GuardPanic        GuardStatus = "panic"
)

// SessionGuard gates all trading on the market window, the day-loss limit,
// feed liveness, and the process panic flag.
type SessionGuard struct {
	loc            *time.Location
	open           timeOfDay
	close          timeOfDay
	grace          time.Duration
	maxDayLoss     money.Money
	minProfit      money.Money // zero disables the profit-target halt
	staleThreshold time.Duration

	sessionTotal func() money.Money
	lastTickAt   func() time.Time
	panicked     func() bool
	now          func() time.Time
}

type timeOfDay struct{ hour, minute int }

func parseTimeOfDay(s string) (timeOfDay, error) {
	var t timeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.hour, &t.minute); err != nil {
		return t, fmt.Errorf("time of day %q: %w", s, err)
	}
	return t, nil
}

// NewSessionGuard builds the guard from session config and live probes.
func NewSessionGuard(
	cfg config.SessionConfig,
	maxDayLoss, minProfit money.Money,
	staleThreshold time.Duration,
	sessionTotal func() money.Money,
	lastTickAt func() time.Time,
) (*SessionGuard, error) {
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("session location: %w", err)
	}
	open, err := parseTimeOfDay(cfg.MarketOpen)
	if err != nil {
		return nil, err
	}
	cls, err := parseTimeOfDay(cfg.MarketClose)
	if err != nil {
		return nil, err
	}

	return &SessionGuard{
		loc:            loc,
		open:           open,
		close:          cls,
		grace:          cfg.Grace,
		maxDayLoss:     maxDayLoss,
		minProfit:      minProfit,
		staleThreshold: staleThreshold,
		sessionTotal:   sessionTotal,
		lastTickAt:     lastTickAt,
		panicked:       config.PanicRequested,
		now:            time.Now,
	}, nil
}

// Check returns the first failing rule, or GuardOK.
func (g *SessionGuard) Check() GuardStatus {
	if g.panicked() {
		return GuardPanic
	}
	if !g.inWindow(g.now().In(g.loc)) {
		return GuardMarketClosed
	}
	total := g.sessionTotal()
	if total.IsNegative() && total.Neg().GreaterThanOrEqual(g.maxDayLoss) {
		return GuardDayLoss
	}
	if g.minProfit.IsPositive() && total.GreaterThanOrEqual(g.minProfit) {
		return GuardProfitTarget
	}
	if last := g.lastTickAt(); last.IsZero() || g.now().Sub(last) > g.staleThreshold {
		return GuardFeedStale
	}
	return GuardOK
}

// inWindow reports whether t falls inside [open, close+grace].
func (g *SessionGuard) inWindow(t time.Time) bool {
	open := time.Date(t.Year(), t.Month(), t.Day(), g.open.hour, g.open.minute, 0, 0, g.loc)
	cls := time.Date(t.Year(), t.Month(), t.Day(), g.close.hour, g.close.minute, 0, 0, g.loc).Add(g.grace)
	return !t.Before(open) && !t.After(cls)
}
