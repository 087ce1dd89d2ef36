// Dhan Scalper — an automated intraday options scalping engine for NSE
// index options.
//
// Architecture:
//
//	main.go              — entry point: loads config, builds the app, waits for SIGINT/SIGTERM
//	engine/app.go        — orchestrator: wires store → feed → signals → entry/exit → supervisor
//	engine/supervisor.go — decision-tick loop: P&L refresh, session guard, entry and exit passes
//	engine/entry.go      — turns two-timeframe signals into funded ATM option positions
//	engine/exit.go       — rule ladder: emergency floor, invalidation, TP/SL, breakeven, trailing
//	indicators/          — EMA/RSI/ADX/Supertrend over live candle series
//	feed/manager.go      — resilient market WebSocket: resubscribe on reconnect, dedup, backoff
//	trade/executor.go    — the only path that moves money: balance check → order → position → trail
//	broker/              — paper fills at cached LTP, or the live order API behind a breaker
//	store/               — durable hash/set/list store (in-memory or SQLite) for crash recovery
//
// How it trades:
//
//	Index ticks build 5m and 15m candles. When both timeframes agree on a
//	direction with enough trend strength, the engine buys the ATM option of
//	that side, sized by an allocation fraction of available balance. Exits
//	are mechanical: a fixed target and stop, a breakeven lock once the
//	position is in profit, and a ratcheting trailing stop under the peak.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/engine"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfgPath := "configs/scalper.yaml"
	if p := os.Getenv("SCALPER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := engine.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if cfg.Mode == "paper" {
		logger.Warn("PAPER MODE — fills are simulated at the cached price")
	}
	logger.Info("scalper started",
		"session", app.SessionID(),
		"symbols", cfg.Symbols,
		"decision_interval", cfg.Global.DecisionInterval,
		"max_day_loss", cfg.Global.MaxDayLoss,
	)

	if err := app.Run(ctx); err != nil {
		logger.Error("session ended with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
