package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/balance"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/broker"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/feed"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/history"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/indicators"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/instruments"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/notify"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/positions"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/store"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/ticks"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/trade"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// App assembles the full trading session from config: store, tick cache,
// feed, signal hub, broker, wallet, and the supervisor loop. Construction
// also recovers persisted state (open positions, last-known prices) from a
// previous run.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	st         store.Store
	keys       store.Keys
	cache      *ticks.Cache
	feed       *feed.Manager
	hub        *SignalHub
	tracker    *positions.Tracker
	wallet     balance.Provider
	notifier   notify.Notifier
	supervisor *Supervisor

	sessionID string
}

// NewApp wires every component. ctx bounds construction-time work (master
// download, history warm-up) and the cache mirror's lifetime.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	mode := types.Mode(cfg.Mode)
	sessionID := time.Now().Format("20060102-150405")

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	keys := store.Keys{NS: cfg.Store.Namespace}
	cache := ticks.New(logger, ticks.WithMirror(ctx, st, keys))

	resolver, err := loadResolver(ctx, cfg, mode, logger)
	if err != nil {
		return nil, err
	}
	sessionLoc, err := time.LoadLocation(cfg.Session.Location)
	if err != nil {
		return nil, fmt.Errorf("session location: %w", err)
	}
	picker := instruments.NewPicker(resolver, mode, sessionLoc, logger)

	var (
		wallet balance.Provider
		brk    trade.Broker
	)
	if mode == types.ModeLive {
		live := broker.NewLive(cfg.Broker, broker.LTPFunc(cache.LTP), logger)
		wallet = balance.NewLive(live, balance.Funds{}, logger)
		brk = live
	} else {
		wallet = balance.NewSimulated(money.FromFloat(cfg.Paper.StartingBalance))
		brk = broker.NewPaper(broker.LTPFunc(cache.LTP), logger)
	}

	tracker := positions.NewTracker()
	exec := trade.NewExecutor(brk, wallet, tracker, st, keys, trade.LTPFunc(cache.LTP),
		sessionID, mode, money.FromFloat(cfg.Global.ChargePerOrder), logger)

	hub, err := buildHub(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.History.BaseURL != "" {
		loader := history.NewLoader(cfg.History, cfg.Broker.AccessToken, logger)
		hub.Warmup(ctx, loader, cfg.History.PrimaryInterval, cfg.History.SecondaryInterval)
	}

	fm := feed.NewManager(cfg.WS, func(t types.Tick) {
		if cache.Put(t) {
			hub.OnTick(t)
		}
	}, logger)
	for _, symbol := range cfg.Symbols {
		p := cfg.Params[symbol]
		fm.AddBaseline(types.InstrumentKey{Segment: p.SegIdx, SecurityID: p.IdxSID})
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.TelegramEnabled && cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, logger)
		if err != nil {
			logger.Warn("telegram disabled", "error", err)
		} else {
			notifier = tg
		}
	}

	pnl := NewPnLTracker(sessionID, wallet.Total(), st, keys, logger)
	guard, err := NewSessionGuard(cfg.Session,
		money.FromFloat(cfg.Global.MaxDayLoss), money.FromFloat(cfg.Global.MinProfitTarget),
		cfg.WS.StaleThreshold, pnl.Total, fm.LastTickAt)
	if err != nil {
		return nil, err
	}

	entry := NewEntryManager(cfg, hub, picker, cache, wallet, tracker, exec, fm, notifier, pnl, logger)
	exit := NewExitManager(cfg.Global, hub, cache, tracker, exec, fm, notifier, pnl, logger)
	supervisor := NewSupervisor(cfg, guard, entry, exit, pnl, tracker, wallet,
		cache, st, keys, notifier, logger)

	app := &App{
		cfg:        cfg,
		logger:     logger.With("component", "app"),
		st:         st,
		keys:       keys,
		cache:      cache,
		feed:       fm,
		hub:        hub,
		tracker:    tracker,
		wallet:     wallet,
		notifier:   notifier,
		supervisor: supervisor,
		sessionID:  sessionID,
	}
	app.recover(ctx)
	return app, nil
}

// SessionID identifies this run in the order trail.
func (a *App) SessionID() string { return a.sessionID }

// Run drives the feed and the supervisor until ctx is cancelled or the feed
// exhausts its reconnect budget.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feedErr := make(chan error, 1)
	go func() {
		err := a.feed.Run(ctx)
		feedErr <- err
		// A dead feed ends the session; the supervisor flushes on cancel.
		cancel()
	}()

	supErr := a.supervisor.Run(ctx)

	a.feed.Close()
	if err := <-feedErr; err != nil {
		a.logger.Error("feed stopped", "error", err)
		return err
	}
	return supErr
}

// Close releases the durable store.
func (a *App) Close() error {
	return a.st.Close()
}

// recover reloads open positions and the last-known price snapshot so a
// restart resumes managing yesterday's exposure instead of orphaning it.
func (a *App) recover(ctx context.Context) {
	ids, err := a.st.SMembers(ctx, a.keys.OpenPositions())
	if err != nil {
		a.logger.Warn("open position recovery failed", "error", err)
	}
	for _, id := range ids {
		fields, err := a.st.HGetAll(ctx, a.keys.Position(id))
		if err != nil || len(fields) == 0 {
			continue
		}
		pos := positions.Decode(fields)
		if pos.NetQty <= 0 {
			continue
		}
		a.tracker.Restore(pos)
		a.feed.AddPosition(types.InstrumentKey{Segment: pos.Key.Segment, SecurityID: pos.Key.SecurityID})
		a.logger.Info("position restored",
			"position", pos.Key.ID(), "qty", pos.NetQty, "avg", pos.BuyAvg)
	}

	snap, err := a.st.HGetAll(ctx, a.keys.LTPSnapshot())
	if err != nil {
		return
	}
	for key, ltp := range snap {
		seg, sid, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		// Stale on purpose: recovered prices never pass the entry freshness
		// gate, they only seed exits and projections until live ticks land.
		a.cache.Put(types.Tick{Segment: seg, SecurityID: sid, LTP: money.BD(ltp)})
	}
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.OpenSQLite(cfg.Path)
	case "", "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("store driver %q not supported", cfg.Driver)
	}
}

func loadResolver(ctx context.Context, cfg *config.Config, mode types.Mode, logger *slog.Logger) (instruments.Resolver, error) {
	switch {
	case cfg.Instruments.CSVPath != "":
		return instruments.LoadCSVFile(cfg.Instruments.CSVPath)
	case mode == types.ModeLive && cfg.Instruments.CSVURL != "":
		client := resty.New().SetTimeout(60 * time.Second)
		return instruments.FetchCSV(ctx, client, cfg.Instruments.CSVURL)
	case mode == types.ModeLive:
		return nil, fmt.Errorf("live mode needs instruments.csv_path or csv_url")
	default:
		// Paper mode synthesizes security ids; expiries fall back to the
		// configured weekday.
		logger.Info("no instrument master configured, using synthetic contracts")
		return &instruments.CSVResolver{}, nil
	}
}

func buildHub(cfg *config.Config, logger *slog.Logger) (*SignalHub, error) {
	params := indicators.DefaultParams()
	if cfg.Global.ADXMinPrimary > 0 {
		params.ADXMinPrimary = cfg.Global.ADXMinPrimary
	}
	if cfg.Global.ADXMinSecondary > 0 {
		params.ADXMinSecondary = cfg.Global.ADXMinSecondary
	}
	params.UseEnhanced = cfg.Global.UseEnhanced
	params.UseSecondary = cfg.Global.UseSecondary

	primaryIval, err := time.ParseDuration(cfg.History.PrimaryInterval)
	if err != nil {
		return nil, fmt.Errorf("history.primary_interval: %w", err)
	}
	secondaryIval, err := time.ParseDuration(cfg.History.SecondaryInterval)
	if err != nil {
		return nil, fmt.Errorf("history.secondary_interval: %w", err)
	}

	hub := NewSignalHub(indicators.NewEngine(params, logger), logger)
	for _, symbol := range cfg.Symbols {
		p, ok := cfg.Params[symbol]
		if !ok {
			return nil, fmt.Errorf("symbol_params.%s missing", symbol)
		}
		primary := indicators.NewSeries(primaryIval, nil, 0)
		var secondary *indicators.Series
		if params.UseSecondary {
			secondary = indicators.NewSeries(secondaryIval, nil, 0)
		}
		hub.Register(symbol, types.InstrumentKey{Segment: p.SegIdx, SecurityID: p.IdxSID}, primary, secondary)
	}
	return hub, nil
}
