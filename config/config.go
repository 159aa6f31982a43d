// Package config loads engine configuration from a YAML file with
// environment-variable overrides (prefix ENGINE_, dots become
// underscores). Every knob has a default so a bare config file runs a
// paper-trading engine.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/strategy"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/trader"
)

// Config is the full engine configuration.
type Config struct {
	Mode       string // "paper" or "live"
	ContractID string
	LogLevel   string

	Feed struct {
		URL        string
		StaleAfter time.Duration
	}

	Sim struct {
		StartPrice  float64
		TickSize    float64
		IntervalMs  int
		Drift       float64
		Volatility  float64
		StartEquity float64
		SlippageBps float64
	}

	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
	}

	Journal struct {
		Enabled bool
		Path    string
	}

	Webhook struct {
		URL         string
		Timeout     time.Duration
		DedupWindow time.Duration
	}

	MetricsAddr string

	Strategy strategy.Config
	Trader   trader.Config
}

// Load reads the YAML file at path (optional; empty path means env
// and defaults only) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{}
	cfg.Mode = v.GetString("mode")
	cfg.ContractID = v.GetString("contract_id")
	cfg.LogLevel = v.GetString("log_level")
	cfg.MetricsAddr = v.GetString("metrics_addr")

	cfg.Feed.URL = v.GetString("feed.url")
	cfg.Feed.StaleAfter = v.GetDuration("feed.stale_after")

	cfg.Sim.StartPrice = v.GetFloat64("sim.start_price")
	cfg.Sim.TickSize = v.GetFloat64("sim.tick_size")
	cfg.Sim.IntervalMs = v.GetInt("sim.interval_ms")
	cfg.Sim.Drift = v.GetFloat64("sim.drift")
	cfg.Sim.Volatility = v.GetFloat64("sim.volatility")
	cfg.Sim.StartEquity = v.GetFloat64("sim.start_equity")
	cfg.Sim.SlippageBps = v.GetFloat64("sim.slippage_bps")

	cfg.Redis.Enabled = v.GetBool("redis.enabled")
	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")

	cfg.Journal.Enabled = v.GetBool("journal.enabled")
	cfg.Journal.Path = v.GetString("journal.path")

	cfg.Webhook.URL = v.GetString("webhook.url")
	cfg.Webhook.Timeout = v.GetDuration("webhook.timeout")
	cfg.Webhook.DedupWindow = v.GetDuration("webhook.dedup_window")

	cfg.Strategy = strategyConfig(v, cfg.ContractID)
	cfg.Trader = traderConfig(v, cfg.ContractID)

	if cfg.Mode != "paper" && cfg.Mode != "live" {
		return nil, fmt.Errorf("config: mode must be paper or live, got %q", cfg.Mode)
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func strategyConfig(v *viper.Viper, contractID string) strategy.Config {
	sc := strategy.DefaultConfig()
	sc.ContractID = contractID

	sc.TradingStart = v.GetString("session.start")
	sc.TradingEnd = v.GetString("session.end")
	sc.Timezone = v.GetString("session.timezone")

	sc.LTFInterval = v.GetDuration("strategy.ltf_interval")
	sc.HTFInterval = v.GetDuration("strategy.htf_interval")
	sc.SeriesCap = v.GetInt("strategy.series_cap")

	sc.ATRLength = v.GetInt("strategy.atr_length")
	sc.MinATRToTrade = v.GetFloat64("strategy.min_atr_to_trade")
	sc.DeltaSpikeThreshold = v.GetFloat64("strategy.delta_spike_threshold")
	sc.DeltaSMALength = v.GetInt("strategy.delta_sma_length")
	sc.DeltaSurgeMultiplier = v.GetFloat64("strategy.delta_surge_multiplier")
	sc.HTFEMALength = v.GetInt("strategy.htf_ema_length")
	sc.HTFUseForming = v.GetBool("strategy.htf_use_forming")
	sc.BreakoutLookbackBars = v.GetInt("strategy.breakout_lookback_bars")
	sc.UseEMAFilter = v.GetBool("strategy.use_ema_filter")
	sc.EMALength = v.GetInt("strategy.ema_length")

	sc.MinBarsBeforeExit = v.GetInt("strategy.min_bars_before_exit")
	sc.DeltaSlopeExitLength = v.GetInt("strategy.delta_slope_exit_length")

	sc.ATRStopLossMultiplier = v.GetFloat64("strategy.atr_stop_loss_multiplier")
	sc.TrailActivationATR = v.GetFloat64("strategy.trail_activation_atr")
	sc.TrailOffsetATR = v.GetFloat64("strategy.trail_offset_atr")
	sc.TrailGracePeriod = v.GetDuration("strategy.trail_grace_period")

	sc.EnableIntraBar = v.GetBool("strategy.enable_intra_bar")
	sc.IntraBarMinAccumulation = v.GetDuration("strategy.intra_bar_min_accumulation")
	sc.IntraBarConfirmSamples = v.GetInt("strategy.intra_bar_confirm_samples")
	sc.IntraBarCooldown = v.GetDuration("strategy.intra_bar_cooldown")
	sc.DisableBarCloseEntries = v.GetBool("strategy.disable_bar_close_entries")

	sc.RiskPerTradePct = v.GetFloat64("risk.per_trade_pct")
	sc.MaxContracts = v.GetInt64("risk.max_contracts")

	return sc
}

func traderConfig(v *viper.Viper, contractID string) trader.Config {
	return trader.Config{
		ContractID:           contractID,
		OrderTimeout:         v.GetDuration("trader.order_timeout"),
		FlattenTimeout:       v.GetDuration("trader.flatten_timeout"),
		PostExitCooldown:     v.GetDuration("trader.post_exit_cooldown"),
		RateLimitBackoff:     v.GetDuration("trader.rate_limit_backoff"),
		EquityRefresh:        v.GetDuration("trader.equity_refresh"),
		ReconcileBeforeEntry: v.GetBool("trader.reconcile_before_entry"),
		ClockInterval:        v.GetDuration("trader.clock_interval"),
	}
}

func setDefaults(v *viper.Viper) {
	def := strategy.DefaultConfig()

	v.SetDefault("mode", "paper")
	v.SetDefault("contract_id", "ES")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9100")

	v.SetDefault("feed.stale_after", "5s")

	v.SetDefault("sim.start_price", 5000.0)
	v.SetDefault("sim.tick_size", 0.25)
	v.SetDefault("sim.interval_ms", 100)
	v.SetDefault("sim.volatility", 1.0)
	v.SetDefault("sim.start_equity", 100000.0)
	v.SetDefault("sim.slippage_bps", 1.0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "trades.db")

	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.dedup_window", "30s")

	v.SetDefault("session.start", def.TradingStart)
	v.SetDefault("session.end", def.TradingEnd)
	v.SetDefault("session.timezone", def.Timezone)

	v.SetDefault("strategy.ltf_interval", def.LTFInterval.String())
	v.SetDefault("strategy.htf_interval", def.HTFInterval.String())
	v.SetDefault("strategy.series_cap", def.SeriesCap)
	v.SetDefault("strategy.atr_length", def.ATRLength)
	v.SetDefault("strategy.min_atr_to_trade", def.MinATRToTrade)
	v.SetDefault("strategy.delta_spike_threshold", def.DeltaSpikeThreshold)
	v.SetDefault("strategy.delta_sma_length", def.DeltaSMALength)
	v.SetDefault("strategy.delta_surge_multiplier", def.DeltaSurgeMultiplier)
	v.SetDefault("strategy.htf_ema_length", def.HTFEMALength)
	v.SetDefault("strategy.htf_use_forming", def.HTFUseForming)
	v.SetDefault("strategy.breakout_lookback_bars", def.BreakoutLookbackBars)
	v.SetDefault("strategy.use_ema_filter", def.UseEMAFilter)
	v.SetDefault("strategy.ema_length", def.EMALength)
	v.SetDefault("strategy.min_bars_before_exit", def.MinBarsBeforeExit)
	v.SetDefault("strategy.delta_slope_exit_length", def.DeltaSlopeExitLength)
	v.SetDefault("strategy.atr_stop_loss_multiplier", def.ATRStopLossMultiplier)
	v.SetDefault("strategy.trail_activation_atr", def.TrailActivationATR)
	v.SetDefault("strategy.trail_offset_atr", def.TrailOffsetATR)
	v.SetDefault("strategy.trail_grace_period", def.TrailGracePeriod.String())
	v.SetDefault("strategy.enable_intra_bar", def.EnableIntraBar)
	v.SetDefault("strategy.intra_bar_min_accumulation", def.IntraBarMinAccumulation.String())
	v.SetDefault("strategy.intra_bar_confirm_samples", def.IntraBarConfirmSamples)
	v.SetDefault("strategy.intra_bar_cooldown", def.IntraBarCooldown.String())
	v.SetDefault("strategy.disable_bar_close_entries", def.DisableBarCloseEntries)
	v.SetDefault("risk.per_trade_pct", def.RiskPerTradePct)
	v.SetDefault("risk.max_contracts", def.MaxContracts)

	v.SetDefault("trader.order_timeout", "5s")
	v.SetDefault("trader.flatten_timeout", "3s")
	v.SetDefault("trader.post_exit_cooldown", "30s")
	v.SetDefault("trader.rate_limit_backoff", "30s")
	v.SetDefault("trader.equity_refresh", "1m")
	v.SetDefault("trader.reconcile_before_entry", true)
	v.SetDefault("trader.clock_interval", "1s")
}
