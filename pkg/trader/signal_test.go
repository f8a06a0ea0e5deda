package trader

import (
	"errors"
	"math"
	"testing"
	"time"

	"trendtrader/internal/config"
	"trendtrader/pkg/models"
)

func TestSlope(t *testing.T) {
	flat := []float64{100, 100, 100, 100}
	if got := Slope(flat); got != 0 {
		t.Errorf("expected zero slope for flat series, got %v", got)
	}

	rising := []float64{100, 101, 102, 103, 104, 105}
	if got := Slope(rising); got <= 0 {
		t.Errorf("expected positive slope, got %v", got)
	}
	// 1 unit per step over mean 102.5 → ~0.9756%/step.
	if got := Slope(rising); math.Abs(got-1.0/102.5*100) > 1e-9 {
		t.Errorf("unexpected normalized slope %v", got)
	}

	falling := []float64{105, 104, 103, 102}
	if got := Slope(falling); got >= 0 {
		t.Errorf("expected negative slope, got %v", got)
	}
}

func TestRSI(t *testing.T) {
	if got := RSI([]float64{100, 101}, 14); got != 50 {
		t.Errorf("expected neutral 50 for short history, got %v", got)
	}

	allGains := make([]float64, 16)
	for i := range allGains {
		allGains[i] = 100 + float64(i)
	}
	if got := RSI(allGains, 14); got != 100 {
		t.Errorf("expected 100 for gains only, got %v", got)
	}

	// Equal gains and losses balance to 50.
	alternating := []float64{100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100}
	if got := RSI(alternating, 14); math.Abs(got-50) > 1e-9 {
		t.Errorf("expected 50 for balanced series, got %v", got)
	}
}

func TestAnalyze_RejectsDowntrend(t *testing.T) {
	cfg := testStrategyConfig()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	closes := make([]float64, 18)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	var eval Evaluator
	cand, err := eval.Analyze("KRW-BTC", makeCandles(start, 15*time.Minute, closes...), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cand != nil {
		t.Errorf("negative slope must reject the symbol, got candidate %+v", cand)
	}
}

func TestAnalyze_InsufficientHistory(t *testing.T) {
	cfg := testStrategyConfig()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var eval Evaluator
	_, err := eval.Analyze("KRW-BTC", makeCandles(start, 15*time.Minute, 100, 101, 102), cfg)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestAnalyze_Uptrend(t *testing.T) {
	cfg := testStrategyConfig()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	closes := make([]float64, 18)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	var eval Evaluator
	cand, err := eval.Analyze("KRW-BTC", makeCandles(start, 15*time.Minute, closes...), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cand == nil {
		t.Fatal("expected a candidate for a rising series")
	}
	if cand.Slope <= 0 {
		t.Errorf("expected positive slope, got %v", cand.Slope)
	}
	if cand.Price != 117 {
		t.Errorf("expected last close 117, got %v", cand.Price)
	}
	if cand.WindowHigh != 117 || cand.WindowLow != 106 {
		t.Errorf("expected window [106, 117], got [%v, %v]", cand.WindowLow, cand.WindowHigh)
	}
}

func TestScore_Components(t *testing.T) {
	cfg := testStrategyConfig()
	var eval Evaluator

	best := &models.ScoredCandidate{Slope: 1.2, ChannelPos: 0.2, VolRatio: 1.5, RSI: 50}
	if got := eval.Score(best, cfg); got != 45 {
		t.Errorf("expected full score 45, got %d", got)
	}

	midChannel := &models.ScoredCandidate{Slope: 0.7, ChannelPos: 0.5, VolRatio: 0.8, RSI: 75}
	if got := eval.Score(midChannel, cfg); got != 15 {
		t.Errorf("expected 10+5=15, got %d", got)
	}

	weak := &models.ScoredCandidate{Slope: 0.2, ChannelPos: 0.9, VolRatio: 0.5, RSI: 80}
	if got := eval.Score(weak, cfg); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestEligible(t *testing.T) {
	cfg := testStrategyConfig()
	var eval Evaluator

	ok := &models.ScoredCandidate{Score: 30, Slope: 1.0, RSI: 50}
	if !eval.Eligible(ok, cfg) {
		t.Error("expected candidate to be eligible")
	}

	tests := []struct {
		name string
		cand *models.ScoredCandidate
	}{
		{"nil candidate", nil},
		{"score below minimum", &models.ScoredCandidate{Score: 10, Slope: 1.0, RSI: 50}},
		{"slope below minimum", &models.ScoredCandidate{Score: 30, Slope: 0.2, RSI: 50}},
		{"rsi overbought", &models.ScoredCandidate{Score: 30, Slope: 1.0, RSI: 75}},
	}
	for _, tt := range tests {
		if eval.Eligible(tt.cand, cfg) {
			t.Errorf("%s: expected ineligible", tt.name)
		}
	}
}

func TestRank_TieBrokenBySlope(t *testing.T) {
	var eval Evaluator
	cands := []models.ScoredCandidate{
		{Symbol: "KRW-ETH", Score: 30, Slope: 0.8},
		{Symbol: "KRW-BTC", Score: 30, Slope: 1.5},
		{Symbol: "KRW-XRP", Score: 45, Slope: 0.6},
	}
	eval.Rank(cands)
	want := []string{"KRW-XRP", "KRW-BTC", "KRW-ETH"}
	for i, symbol := range want {
		if cands[i].Symbol != symbol {
			t.Fatalf("rank %d: expected %s, got %s", i, symbol, cands[i].Symbol)
		}
	}
}

func TestMarketSafe(t *testing.T) {
	mf := &config.MarketFilter{
		Enabled:          true,
		ReferenceSymbol:  "KRW-BTC",
		DropThreshold1h:  -0.015,
		SlopeThreshold3h: -0.5,
	}

	if !MarketSafe(mf, 100_000_000, 100_500_000, 0.1) {
		t.Error("mild dip should be safe")
	}
	if MarketSafe(mf, 98_000_000, 100_000_000, 0.1) {
		t.Error("2% hourly drop should trip the filter")
	}
	if MarketSafe(mf, 100_000_000, 100_000_000, -0.8) {
		t.Error("steep reference downtrend should trip the filter")
	}

	disabled := &config.MarketFilter{Enabled: false}
	if !MarketSafe(disabled, 90_000_000, 100_000_000, -5) {
		t.Error("disabled filter must always pass")
	}
}
