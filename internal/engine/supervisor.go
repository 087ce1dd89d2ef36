package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/balance"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/notify"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/positions"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/store"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/ticks"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Supervisor owns the decision-tick loop. Every interval it refreshes P&L,
// consults the session guard, and runs the entry and exit managers. A
// guard trip force-exits everything and pauses trading until the guard
// clears; positions that fail to flatten are retried each tick.
type Supervisor struct {
	cfg      *config.Config
	guard    *SessionGuard
	entry    *EntryManager
	exit     *ExitManager
	pnl      *PnLTracker
	tracker  *positions.Tracker
	wallet   balance.Provider
	cache    *ticks.Cache
	st       store.Store
	keys     store.Keys
	notifier notify.Notifier
	logger   *slog.Logger

	seq        int64
	haltReason GuardStatus
}

// NewSupervisor wires the session loop.
func NewSupervisor(
	cfg *config.Config,
	guard *SessionGuard,
	entry *EntryManager,
	exit *ExitManager,
	pnl *PnLTracker,
	tracker *positions.Tracker,
	wallet balance.Provider,
	cache *ticks.Cache,
	st store.Store,
	keys store.Keys,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		guard:    guard,
		entry:    entry,
		exit:     exit,
		pnl:      pnl,
		tracker:  tracker,
		wallet:   wallet,
		cache:    cache,
		st:       st,
		keys:     keys,
		notifier: notifier,
		logger:   logger.With("component", "supervisor"),
	}
}

// Run drives decision ticks until ctx is cancelled, then flushes state and
// returns.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Global.DecisionInterval)
	defer ticker.Stop()

	s.logger.Info("session started",
		"mode", s.cfg.Mode, "symbols", s.cfg.Symbols,
		"interval", s.cfg.Global.DecisionInterval)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one decision cycle. Exported so tests and the CLI can step the
// engine deterministically.
func (s *Supervisor) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("decision tick panicked", "panic", r)
		}
	}()

	s.seq++
	s.heartbeat(ctx)

	s.tracker.UpdateUnrealized(positions.LTPFunc(s.cache.LTP))
	s.pnl.Update(s.wallet, s.tracker)

	status := s.guard.Check()
	if status != GuardOK {
		if s.haltReason != status {
			s.haltReason = status
			s.logger.Warn("session guard tripped", "status", status)
			s.notifier.SessionHalted(string(status))
		}
		// A rejected flatten order is retried on every halted tick; the
		// exit dedup window caps the order rate.
		if len(s.tracker.ListOpen()) > 0 {
			s.exit.ForceExitAll(ctx, ExitSession)
		}
		s.pnl.Persist(ctx)
		return
	}
	s.haltReason = ""

	s.entry.Tick(ctx, s.seq)
	s.exit.Tick(ctx)

	s.pnl.Update(s.wallet, s.tracker)
	s.pnl.Persist(ctx)
}

// heartbeat refreshes the liveness key other processes (CLI, monitors)
// read.
func (s *Supervisor) heartbeat(ctx context.Context) {
	if err := s.st.Set(ctx, s.keys.Heartbeat(), time.Now().Format(time.RFC3339), store.HeartbeatTTL); err != nil {
		s.pnl.RecordFailure(types.ErrStoreUnavailable)
	}
}

func (s *Supervisor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.tracker.UpdateUnrealized(positions.LTPFunc(s.cache.LTP))
	s.pnl.Update(s.wallet, s.tracker)
	s.pnl.Persist(ctx)

	report := s.pnl.Report(s.wallet.Total())
	s.logger.Info("session finished", "report", report.String())
	s.notifier.SessionReport(report)
}

// Report renders the current session report.
func (s *Supervisor) Report() types.SessionReport {
	return s.pnl.Report(s.wallet.Total())
}
