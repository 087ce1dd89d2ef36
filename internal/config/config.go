// Package config defines all configuration for the scalping engine.
// Config is loaded from a YAML file (default: configs/scalper.yaml) with
// sensitive fields overridable via SCALPER_* environment variables.
// Broker credentials come exclusively from CLIENT_ID and ACCESS_TOKEN.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode    string   `mapstructure:"mode"`    // "paper" or "live"
	Symbols []string `mapstructure:"symbols"` // ordered priority list of underlyings

	Global      GlobalConfig            `mapstructure:"global"`
	Params      map[string]SymbolConfig `mapstructure:"symbol_params"`
	Paper       PaperConfig             `mapstructure:"paper"`
	WS          WSConfig                `mapstructure:"websocket"`
	Broker      BrokerConfig            `mapstructure:"broker"`
	Session     SessionConfig           `mapstructure:"session"`
	Store       StoreConfig             `mapstructure:"store"`
	History     HistoryConfig           `mapstructure:"history"`
	Instruments InstrumentsConfig       `mapstructure:"instruments"`
	Notify      NotifyConfig            `mapstructure:"notify"`
	Logging     LoggingConfig           `mapstructure:"logging"`
}

// GlobalConfig holds risk and sizing knobs shared by all symbols.
// Monetary values are rupees; *Pct fields are fractions (0.30 = 30%).
type GlobalConfig struct {
	MinProfitTarget      float64       `mapstructure:"min_profit_target"`
	MaxDayLoss           float64       `mapstructure:"max_day_loss"`
	ChargePerOrder       float64       `mapstructure:"charge_per_order"`
	AllocationPct        float64       `mapstructure:"allocation_pct"`
	SlippageBufferPct    float64       `mapstructure:"slippage_buffer_pct"`
	MaxLotsPerTrade      int           `mapstructure:"max_lots_per_trade"`
	MaxConcurrent        int           `mapstructure:"max_concurrent"`
	DecisionInterval     time.Duration `mapstructure:"decision_interval"`
	TPPct                float64       `mapstructure:"tp_pct"`
	SLPct                float64       `mapstructure:"sl_pct"`
	TrailPct             float64       `mapstructure:"trail_pct"`
	BreakevenThresholdPct float64      `mapstructure:"breakeven_threshold_pct"`
	RupeeStep            float64       `mapstructure:"rupee_step"`
	EmergencyFloorRupees float64       `mapstructure:"emergency_floor_rupees"`

	// Indicator gating. ADX minimums are deliberately configuration, not
	// constants: acceptable values differ per timeframe and per market.
	ADXMinPrimary   float64 `mapstructure:"adx_min_primary"`
	ADXMinSecondary float64 `mapstructure:"adx_min_secondary"`
	UseEnhanced     bool    `mapstructure:"use_enhanced"` // ADX + Supertrend gating
	UseSecondary    bool    `mapstructure:"use_secondary"`
}

// SymbolConfig holds per-underlying instrument parameters.
type SymbolConfig struct {
	IdxSID        string  `mapstructure:"idx_sid"`  // index security id
	SegIdx        string  `mapstructure:"seg_idx"`  // index segment
	SegOpt        string  `mapstructure:"seg_opt"`  // option segment
	StrikeStep    float64 `mapstructure:"strike_step"`
	LotSize       int     `mapstructure:"lot_size"`
	QtyMultiplier int     `mapstructure:"qty_multiplier"` // cap on lots
	ExpiryWday    int     `mapstructure:"expiry_wday"`    // 0=Sunday .. 6=Saturday
}

// PaperConfig seeds the simulated wallet.
type PaperConfig struct {
	StartingBalance float64 `mapstructure:"starting_balance"`
}

// WSConfig tunes streaming-feed resilience.
type WSConfig struct {
	URL                  string        `mapstructure:"url"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	BaseReconnectDelay   time.Duration `mapstructure:"base_reconnect_delay"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay"`
	DedupWindow          time.Duration `mapstructure:"dedup_window"`
	StaleThreshold       time.Duration `mapstructure:"stale_threshold"`
}

// BrokerConfig points the live broker client at the Exchange API.
type BrokerConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RetryCount  int           `mapstructure:"retry_count"`
	ClientID    string        `mapstructure:"-"` // env only
	AccessToken string        `mapstructure:"-"` // env only
}

// SessionConfig bounds the trading day. Times are "HH:MM" in Location.
type SessionConfig struct {
	Location    string        `mapstructure:"location"`
	MarketOpen  string        `mapstructure:"market_open"`
	MarketClose string        `mapstructure:"market_close"`
	Grace       time.Duration `mapstructure:"grace"`
}

// StoreConfig selects the durable store backend.
// Driver "sqlite" persists to Path; "memory" keeps everything in-process.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// HistoryConfig controls indicator warm-up fetches.
type HistoryConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	PrimaryInterval   string `mapstructure:"primary_interval"`   // e.g. "5m"
	SecondaryInterval string `mapstructure:"secondary_interval"` // e.g. "15m"
	WarmupBars        int    `mapstructure:"warmup_bars"`
}

// InstrumentsConfig locates the instrument master. A local CSV path wins
// over the download URL; live mode requires one of the two.
type InstrumentsConfig struct {
	CSVPath string `mapstructure:"csv_path"`
	CSVURL  string `mapstructure:"csv_url"`
}

// NotifyConfig configures the optional Telegram notifier.
type NotifyConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
	TelegramToken   string `mapstructure:"-"` // env only
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Secrets use bare env vars: CLIENT_ID, ACCESS_TOKEN, TELEGRAM_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SCALPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Broker.ClientID = os.Getenv("CLIENT_ID")
	cfg.Broker.AccessToken = os.Getenv("ACCESS_TOKEN")
	cfg.Notify.TelegramToken = os.Getenv("TELEGRAM_TOKEN")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "paper")
	v.SetDefault("global.allocation_pct", 0.30)
	v.SetDefault("global.slippage_buffer_pct", 0.01)
	v.SetDefault("global.max_lots_per_trade", 10)
	v.SetDefault("global.max_concurrent", 2)
	v.SetDefault("global.decision_interval", 10*time.Second)
	v.SetDefault("global.tp_pct", 0.35)
	v.SetDefault("global.sl_pct", 0.18)
	v.SetDefault("global.trail_pct", 0.10)
	v.SetDefault("global.breakeven_threshold_pct", 0.05)
	v.SetDefault("global.charge_per_order", 20)
	v.SetDefault("global.emergency_floor_rupees", 2000)
	v.SetDefault("global.adx_min_primary", 15)
	v.SetDefault("global.adx_min_secondary", 12)
	v.SetDefault("global.use_secondary", true)
	v.SetDefault("paper.starting_balance", 100000)
	v.SetDefault("websocket.heartbeat_interval", 30*time.Second)
	v.SetDefault("websocket.max_reconnect_attempts", 10)
	v.SetDefault("websocket.base_reconnect_delay", time.Second)
	v.SetDefault("websocket.max_reconnect_delay", 30*time.Second)
	v.SetDefault("websocket.dedup_window", 5*time.Second)
	v.SetDefault("websocket.stale_threshold", 60*time.Second)
	v.SetDefault("broker.timeout", 10*time.Second)
	v.SetDefault("broker.retry_count", 3)
	v.SetDefault("session.location", "Asia/Kolkata")
	v.SetDefault("session.market_open", "09:15")
	v.SetDefault("session.market_close", "15:30")
	v.SetDefault("session.grace", 5*time.Minute)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.namespace", "scalper")
	v.SetDefault("instruments.csv_url", "https://images.dhan.co/api-data/api-scrip-master.csv")
	v.SetDefault("history.primary_interval", "5m")
	v.SetDefault("history.secondary_interval", "15m")
	v.SetDefault("history.warmup_bars", 120)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Mode != "paper" && c.Mode != "live" {
		return fmt.Errorf("mode must be paper or live, got %q", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols is required")
	}
	for _, sym := range c.Symbols {
		p, ok := c.Params[sym]
		if !ok {
			return fmt.Errorf("symbol_params.%s is required", sym)
		}
		if p.LotSize <= 0 {
			return fmt.Errorf("symbol_params.%s.lot_size must be > 0", sym)
		}
		if p.StrikeStep <= 0 {
			return fmt.Errorf("symbol_params.%s.strike_step must be > 0", sym)
		}
		if p.IdxSID == "" {
			return fmt.Errorf("symbol_params.%s.idx_sid is required", sym)
		}
	}
	if c.Global.AllocationPct <= 0 || c.Global.AllocationPct > 1 {
		return fmt.Errorf("global.allocation_pct must be in (0,1]")
	}
	if c.Global.MaxDayLoss <= 0 {
		return fmt.Errorf("global.max_day_loss must be > 0")
	}
	if c.Global.DecisionInterval <= 0 {
		return fmt.Errorf("global.decision_interval must be > 0")
	}
	if c.Mode == "live" {
		if c.Broker.ClientID == "" || c.Broker.AccessToken == "" {
			return fmt.Errorf("live mode requires CLIENT_ID and ACCESS_TOKEN")
		}
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required in live mode")
		}
	}
	if c.Mode == "paper" && c.Paper.StartingBalance <= 0 {
		return fmt.Errorf("paper.starting_balance must be > 0")
	}
	if _, err := time.LoadLocation(c.Session.Location); err != nil {
		return fmt.Errorf("session.location: %w", err)
	}
	return nil
}

// PanicRequested reports the process-scoped emergency flag.
func PanicRequested() bool {
	v := os.Getenv("PANIC")
	return v == "1" || strings.EqualFold(v, "true")
}
