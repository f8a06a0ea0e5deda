package config

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func validStrategy() StrategyConfig {
	return StrategyConfig{
		TradeAmount:          10_000,
		MaxSlots:             3,
		CooldownMinutes:      60,
		TimeoutMinutes:       15,
		MinEntryScore:        15,
		MinSlopeThreshold:    0.5,
		RSIPeriod:            14,
		RSIThreshold:         70,
		VolSpikeRatio:        1.0,
		BuyingPowerThreshold: 0.3,
		CandleInterval:       "15m",
		AnalysisCandles:      12,
		ScanIntervalSec:      30,
		SlopeThresholds:      SlopeThresholds{Strong: 2.0, Moderate: 0.5},
		LimitOffsets:         LimitOffsets{Strong: 0.003, Moderate: 0.010, Weak: 0.015},
		Exit: ExitConfig{
			StopLoss:            0.05,
			BreakEvenTrigger:    0.007,
			BreakEvenSL:         0.0005,
			TrailingStopTrigger: 0.008,
			TrailingStopGap:     0.002,
			TakeProfitRatio:     0.5,
			AddBuyTrigger:       -0.01,
			AddBuyAmountRatio:   1.0,
		},
		Universe: UniverseConfig{TopN: 30, MinValue24h: 50_000_000_000, QuoteCurrency: "KRW"},
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := validStrategy()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StrategyConfig)
		want   string
	}{
		{"zero trade amount", func(c *StrategyConfig) { c.TradeAmount = 0 }, "trade_amount"},
		{"zero slots", func(c *StrategyConfig) { c.MaxSlots = 0 }, "max_slots"},
		{"negative cooldown", func(c *StrategyConfig) { c.CooldownMinutes = -1 }, "cooldown_minutes"},
		{"zero timeout", func(c *StrategyConfig) { c.TimeoutMinutes = 0 }, "timeout_minutes"},
		{"stop loss too large", func(c *StrategyConfig) { c.Exit.StopLoss = 1.5 }, "stop_loss"},
		{"offset out of range", func(c *StrategyConfig) { c.LimitOffsets.Weak = 1.2 }, "limit_offsets.weak"},
		{"positive add-buy trigger", func(c *StrategyConfig) { c.Exit.AddBuyTrigger = 0.01 }, "add_buy_trigger"},
		{"rsi threshold over 100", func(c *StrategyConfig) { c.RSIThreshold = 120 }, "rsi_threshold"},
		{"take profit ratio zero", func(c *StrategyConfig) { c.Exit.TakeProfitRatio = 0 }, "take_profit_ratio"},
	}
	for _, tt := range tests {
		cfg := validStrategy()
		tt.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected validation failure", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected error naming %q, got %v", tt.name, tt.want, err)
		}
	}
}

func TestValidate_MarketFilterRequiresReference(t *testing.T) {
	cfg := validStrategy()
	cfg.MarketFilter = MarketFilter{Enabled: true, DropThreshold1h: -0.015}
	if err := cfg.Validate(); err == nil {
		t.Error("enabled market filter without a reference symbol must fail")
	}
}

func TestOffsetForSlope_Tiers(t *testing.T) {
	cfg := validStrategy()
	tests := []struct {
		slope float64
		want  float64
	}{
		{2.5, 0.003},
		{2.0, 0.003},
		{0.8, 0.010},
		{0.5, 0.010},
		{0.3, 0.015},
	}
	for _, tt := range tests {
		if got := cfg.OffsetForSlope(tt.slope); got != tt.want {
			t.Errorf("OffsetForSlope(%v): expected %v, got %v", tt.slope, tt.want, got)
		}
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestStore_SnapshotIsStable(t *testing.T) {
	store := NewStore(validStrategy(), quietLogger())
	snap := store.Snapshot()

	next := validStrategy()
	next.MaxSlots = 5
	if err := store.Apply(next); err != nil {
		t.Fatal(err)
	}

	// The earlier snapshot is unchanged; new readers see the update.
	if snap.MaxSlots != 3 {
		t.Errorf("held snapshot mutated: %d", snap.MaxSlots)
	}
	if store.Snapshot().MaxSlots != 5 {
		t.Errorf("expected updated snapshot, got %d", store.Snapshot().MaxSlots)
	}
}

func TestStore_InvalidUpdateKeepsPrevious(t *testing.T) {
	store := NewStore(validStrategy(), quietLogger())
	before := store.Snapshot()

	bad := validStrategy()
	bad.Exit.StopLoss = -1
	if err := store.Apply(bad); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}

	after := store.Snapshot()
	if after.Version != before.Version {
		t.Errorf("rejected update must not bump the version: %d vs %d", after.Version, before.Version)
	}
	if after.Exit.StopLoss != before.Exit.StopLoss {
		t.Error("rejected update must leave every parameter untouched")
	}
}

func TestStore_VersionMonotonic(t *testing.T) {
	store := NewStore(validStrategy(), quietLogger())
	v0 := store.Snapshot().Version

	next := validStrategy()
	next.CooldownMinutes = 90
	if err := store.Apply(next); err != nil {
		t.Fatal(err)
	}
	if v1 := store.Snapshot().Version; v1 <= v0 {
		t.Errorf("expected version to increase, got %d then %d", v0, v1)
	}
}
