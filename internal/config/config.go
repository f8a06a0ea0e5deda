package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Strategy StrategyConfig `mapstructure:"strategy"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ExchangeConfig struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	RestURL   string `mapstructure:"rest_url"`
	WsURL     string `mapstructure:"ws_url"`
	// Requests per second against the REST API.
	RateLimit float64 `mapstructure:"rate_limit"`
	Paper     bool    `mapstructure:"paper"`
}

type DatabaseConfig struct {
	Path      string `mapstructure:"path"`
	StateFile string `mapstructure:"state_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StrategyConfig is the hot-reloadable part of the configuration. The
// engine only ever sees immutable snapshots of it (see Store).
type StrategyConfig struct {
	Version int `mapstructure:"-" json:"version"`

	TradeAmount     float64 `mapstructure:"trade_amount" json:"trade_amount"`
	MaxSlots        int     `mapstructure:"max_slots" json:"max_slots"`
	CooldownMinutes int     `mapstructure:"cooldown_minutes" json:"cooldown_minutes"`
	TimeoutMinutes  int     `mapstructure:"timeout_minutes" json:"timeout_minutes"`

	MinEntryScore     int     `mapstructure:"min_entry_score" json:"min_entry_score"`
	MinSlopeThreshold float64 `mapstructure:"min_slope_threshold" json:"min_slope_threshold"`
	RSIPeriod         int     `mapstructure:"rsi_period" json:"rsi_period"`
	RSIThreshold      float64 `mapstructure:"rsi_threshold" json:"rsi_threshold"`
	VolSpikeRatio     float64 `mapstructure:"vol_spike_ratio" json:"vol_spike_ratio"`
	// Channel position at or below which a pullback counts as buy pressure.
	BuyingPowerThreshold float64 `mapstructure:"buying_power_threshold" json:"buying_power_threshold"`

	CandleInterval  string `mapstructure:"candle_interval" json:"candle_interval"`
	AnalysisCandles int    `mapstructure:"analysis_candles" json:"analysis_candles"`
	ScanIntervalSec int    `mapstructure:"scan_interval_sec" json:"scan_interval_sec"`

	SlopeThresholds SlopeThresholds `mapstructure:"slope_thresholds" json:"slope_thresholds"`
	LimitOffsets    LimitOffsets    `mapstructure:"limit_offsets" json:"limit_offsets"`
	Exit            ExitConfig      `mapstructure:"exit_strategies" json:"exit_strategies"`
	Universe        UniverseConfig  `mapstructure:"universe" json:"universe"`
	MarketFilter    MarketFilter    `mapstructure:"market_filter" json:"market_filter"`
}

type SlopeThresholds struct {
	Strong   float64 `mapstructure:"strong" json:"strong"`
	Moderate float64 `mapstructure:"moderate" json:"moderate"`
}

type LimitOffsets struct {
	Strong   float64 `mapstructure:"strong" json:"strong"`
	Moderate float64 `mapstructure:"moderate" json:"moderate"`
	Weak     float64 `mapstructure:"weak" json:"weak"`
}

type ExitConfig struct {
	StopLoss              float64 `mapstructure:"stop_loss" json:"stop_loss"`
	StopLossConfirmSec    int     `mapstructure:"stop_loss_confirm_seconds" json:"stop_loss_confirm_seconds"`
	BreakEvenTrigger      float64 `mapstructure:"break_even_trigger" json:"break_even_trigger"`
	BreakEvenSL           float64 `mapstructure:"break_even_sl" json:"break_even_sl"`
	TrailingStopTrigger   float64 `mapstructure:"trailing_stop_trigger" json:"trailing_stop_trigger"`
	TrailingStopGap       float64 `mapstructure:"trailing_stop_gap" json:"trailing_stop_gap"`
	TrailingConfirmSec    int     `mapstructure:"trailing_stop_confirm_seconds" json:"trailing_stop_confirm_seconds"`
	TakeProfitRatio       float64 `mapstructure:"take_profit_ratio" json:"take_profit_ratio"`
	AddBuyTrigger         float64 `mapstructure:"add_buy_trigger" json:"add_buy_trigger"`
	MaxAddBuys            int     `mapstructure:"max_add_buys" json:"max_add_buys"`
	AddBuyAmountRatio     float64 `mapstructure:"add_buy_amount_ratio" json:"add_buy_amount_ratio"`
}

type UniverseConfig struct {
	TopN          int     `mapstructure:"top_n" json:"top_n"`
	MinValue24h   float64 `mapstructure:"min_value_24h" json:"min_value_24h"`
	QuoteCurrency string  `mapstructure:"quote_currency" json:"quote_currency"`
}

type MarketFilter struct {
	Enabled          bool    `mapstructure:"enabled" json:"enabled"`
	ReferenceSymbol  string  `mapstructure:"reference_symbol" json:"reference_symbol"`
	DropThreshold1h  float64 `mapstructure:"drop_threshold_1h" json:"drop_threshold_1h"`
	SlopeThreshold3h float64 `mapstructure:"slope_threshold_3h" json:"slope_threshold_3h"`
}

func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/trendtrader")
	}

	v.SetEnvPrefix("TREND")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if err := config.Strategy.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid strategy config: %w", err)
	}

	return &config, v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("exchange.rest_url", "https://api.upbit.com")
	v.SetDefault("exchange.ws_url", "wss://api.upbit.com/websocket/v1")
	v.SetDefault("exchange.rate_limit", 8.0)
	v.SetDefault("exchange.paper", false)

	v.SetDefault("database.path", "./data/trendtrader.db")
	v.SetDefault("database.state_file", "./data/trade_state.json")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("strategy.trade_amount", 10000.0)
	v.SetDefault("strategy.max_slots", 3)
	v.SetDefault("strategy.cooldown_minutes", 60)
	v.SetDefault("strategy.timeout_minutes", 15)
	v.SetDefault("strategy.min_entry_score", 15)
	v.SetDefault("strategy.min_slope_threshold", 0.5)
	v.SetDefault("strategy.rsi_period", 14)
	v.SetDefault("strategy.rsi_threshold", 70.0)
	v.SetDefault("strategy.vol_spike_ratio", 1.0)
	v.SetDefault("strategy.buying_power_threshold", 0.3)
	v.SetDefault("strategy.candle_interval", "15m")
	v.SetDefault("strategy.analysis_candles", 12)
	v.SetDefault("strategy.scan_interval_sec", 30)
	v.SetDefault("strategy.slope_thresholds.strong", 2.0)
	v.SetDefault("strategy.slope_thresholds.moderate", 0.5)
	v.SetDefault("strategy.limit_offsets.strong", 0.003)
	v.SetDefault("strategy.limit_offsets.moderate", 0.010)
	v.SetDefault("strategy.limit_offsets.weak", 0.015)
	v.SetDefault("strategy.exit_strategies.stop_loss", 0.05)
	v.SetDefault("strategy.exit_strategies.stop_loss_confirm_seconds", 0)
	v.SetDefault("strategy.exit_strategies.break_even_trigger", 0.007)
	v.SetDefault("strategy.exit_strategies.break_even_sl", 0.0005)
	v.SetDefault("strategy.exit_strategies.trailing_stop_trigger", 0.008)
	v.SetDefault("strategy.exit_strategies.trailing_stop_gap", 0.002)
	v.SetDefault("strategy.exit_strategies.trailing_stop_confirm_seconds", 0)
	v.SetDefault("strategy.exit_strategies.take_profit_ratio", 0.5)
	v.SetDefault("strategy.exit_strategies.add_buy_trigger", -0.01)
	v.SetDefault("strategy.exit_strategies.max_add_buys", 0)
	v.SetDefault("strategy.exit_strategies.add_buy_amount_ratio", 1.0)
	v.SetDefault("strategy.universe.top_n", 30)
	v.SetDefault("strategy.universe.min_value_24h", 50_000_000_000.0)
	v.SetDefault("strategy.universe.quote_currency", "KRW")
	v.SetDefault("strategy.market_filter.enabled", false)
	v.SetDefault("strategy.market_filter.reference_symbol", "KRW-BTC")
	v.SetDefault("strategy.market_filter.drop_threshold_1h", -0.015)
	v.SetDefault("strategy.market_filter.slope_threshold_3h", -0.5)
}

func overrideFromEnv(config *Config) {
	if accessKey := os.Getenv("UPBIT_ACCESS_KEY"); accessKey != "" {
		config.Exchange.AccessKey = accessKey
	}
	if secretKey := os.Getenv("UPBIT_SECRET_KEY"); secretKey != "" {
		config.Exchange.SecretKey = secretKey
	}
}

// Validate rejects a strategy config wholesale; a config that fails here
// is never applied, even partially.
func (c *StrategyConfig) Validate() error {
	if c.TradeAmount <= 0 {
		return fmt.Errorf("trade_amount must be positive, got %v", c.TradeAmount)
	}
	if c.MaxSlots < 1 {
		return fmt.Errorf("max_slots must be >= 1, got %d", c.MaxSlots)
	}
	if c.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes must not be negative, got %d", c.CooldownMinutes)
	}
	if c.TimeoutMinutes <= 0 {
		return fmt.Errorf("timeout_minutes must be positive, got %d", c.TimeoutMinutes)
	}
	if c.RSIPeriod < 2 {
		return fmt.Errorf("rsi_period must be >= 2, got %d", c.RSIPeriod)
	}
	if c.RSIThreshold <= 0 || c.RSIThreshold > 100 {
		return fmt.Errorf("rsi_threshold must be in (0, 100], got %v", c.RSIThreshold)
	}
	if c.VolSpikeRatio <= 0 {
		return fmt.Errorf("vol_spike_ratio must be positive, got %v", c.VolSpikeRatio)
	}
	if c.BuyingPowerThreshold < 0 || c.BuyingPowerThreshold > 1 {
		return fmt.Errorf("buying_power_threshold must be in [0, 1], got %v", c.BuyingPowerThreshold)
	}
	if c.AnalysisCandles < 2 {
		return fmt.Errorf("analysis_candles must be >= 2, got %d", c.AnalysisCandles)
	}
	if c.ScanIntervalSec <= 0 {
		return fmt.Errorf("scan_interval_sec must be positive, got %d", c.ScanIntervalSec)
	}
	if err := checkFraction("limit_offsets.strong", c.LimitOffsets.Strong); err != nil {
		return err
	}
	if err := checkFraction("limit_offsets.moderate", c.LimitOffsets.Moderate); err != nil {
		return err
	}
	if err := checkFraction("limit_offsets.weak", c.LimitOffsets.Weak); err != nil {
		return err
	}
	e := c.Exit
	if e.StopLoss <= 0 || e.StopLoss >= 1 {
		return fmt.Errorf("exit_strategies.stop_loss must be in (0, 1), got %v", e.StopLoss)
	}
	if e.StopLossConfirmSec < 0 || e.TrailingConfirmSec < 0 {
		return fmt.Errorf("confirm seconds must not be negative")
	}
	if e.BreakEvenTrigger <= 0 || e.BreakEvenTrigger >= 1 {
		return fmt.Errorf("exit_strategies.break_even_trigger must be in (0, 1), got %v", e.BreakEvenTrigger)
	}
	if e.BreakEvenSL < 0 || e.BreakEvenSL >= 1 {
		return fmt.Errorf("exit_strategies.break_even_sl must be in [0, 1), got %v", e.BreakEvenSL)
	}
	if e.TrailingStopTrigger <= 0 || e.TrailingStopTrigger >= 1 {
		return fmt.Errorf("exit_strategies.trailing_stop_trigger must be in (0, 1), got %v", e.TrailingStopTrigger)
	}
	if e.TrailingStopGap <= 0 || e.TrailingStopGap >= 1 {
		return fmt.Errorf("exit_strategies.trailing_stop_gap must be in (0, 1), got %v", e.TrailingStopGap)
	}
	if e.TakeProfitRatio <= 0 || e.TakeProfitRatio > 1 {
		return fmt.Errorf("exit_strategies.take_profit_ratio must be in (0, 1], got %v", e.TakeProfitRatio)
	}
	if e.AddBuyTrigger >= 0 || e.AddBuyTrigger <= -1 {
		return fmt.Errorf("exit_strategies.add_buy_trigger must be in (-1, 0), got %v", e.AddBuyTrigger)
	}
	if e.MaxAddBuys < 0 {
		return fmt.Errorf("exit_strategies.max_add_buys must not be negative, got %d", e.MaxAddBuys)
	}
	if e.AddBuyAmountRatio <= 0 {
		return fmt.Errorf("exit_strategies.add_buy_amount_ratio must be positive, got %v", e.AddBuyAmountRatio)
	}
	if c.Universe.TopN < 1 {
		return fmt.Errorf("universe.top_n must be >= 1, got %d", c.Universe.TopN)
	}
	if c.MarketFilter.Enabled {
		if c.MarketFilter.ReferenceSymbol == "" {
			return fmt.Errorf("market_filter.reference_symbol is required when the filter is enabled")
		}
		if err := checkSignedFraction("market_filter.drop_threshold_1h", c.MarketFilter.DropThreshold1h); err != nil {
			return err
		}
	}
	return nil
}

func checkFraction(name string, v float64) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%s must be in (0, 1), got %v", name, v)
	}
	return nil
}

func checkSignedFraction(name string, v float64) error {
	if v <= -1 || v >= 1 {
		return fmt.Errorf("%s must be in (-1, 1), got %v", name, v)
	}
	return nil
}

// OffsetForSlope picks the limit-price discount tier for a trend slope.
// A stronger trend gets a smaller discount.
func (c *StrategyConfig) OffsetForSlope(slope float64) float64 {
	switch {
	case slope >= c.SlopeThresholds.Strong:
		return c.LimitOffsets.Strong
	case slope >= c.SlopeThresholds.Moderate:
		return c.LimitOffsets.Moderate
	default:
		return c.LimitOffsets.Weak
	}
}
