package trader

import (
	"fmt"
	"sort"

	"trendtrader/internal/config"
	"trendtrader/pkg/models"
)

// Slope fits a least-squares line through the values and returns the slope
// normalized to percent of the mean value per step.
func Slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom

	mean := sumY / n
	if mean == 0 {
		return 0
	}
	return slope / mean * 100
}

// RSI computes the relative strength index from the mean gain/loss of the
// last `period` price changes. Returns 50 when history is too short.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Evaluator turns candle windows into scored entry candidates. It carries
// no state between ticks; everything derives from the candles and the
// config snapshot handed in.
type Evaluator struct{}

// Analyze computes the trend signals for one symbol. The candle series
// must cover the analysis window plus one spare bar for the volume
// baseline and the RSI lookback. A negative regression slope rejects the
// symbol outright (nil, nil).
func (e *Evaluator) Analyze(symbol string, candles []models.Candle, cfg *config.StrategyConfig) (*models.ScoredCandidate, error) {
	need := cfg.AnalysisCandles + 1
	if cfg.RSIPeriod+1 > need {
		need = cfg.RSIPeriod + 1
	}
	if len(candles) < need {
		return nil, fmt.Errorf("%w: %s has %d of %d candles", ErrInsufficientHistory, symbol, len(candles), need)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	window := candles[len(candles)-cfg.AnalysisCandles:]
	windowCloses := closes[len(closes)-cfg.AnalysisCandles:]

	slope := Slope(windowCloses)
	if slope < 0 {
		return nil, nil
	}

	high, low := window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	price := window[len(window)-1].Close

	channelPos := 0.5
	if high > low {
		channelPos = (price - low) / (high - low)
	}

	// Volume baseline: mean of the candles before the current one.
	base := candles[len(candles)-cfg.AnalysisCandles-1 : len(candles)-1]
	var volSum float64
	for _, c := range base {
		volSum += c.Volume
	}
	volRatio := 0.0
	if mean := volSum / float64(len(base)); mean > 0 {
		volRatio = window[len(window)-1].Volume / mean
	}

	cand := &models.ScoredCandidate{
		Symbol:     symbol,
		Price:      price,
		Slope:      slope,
		RSI:        RSI(closes, cfg.RSIPeriod),
		ChannelPos: channelPos,
		VolRatio:   volRatio,
		WindowHigh: high,
		WindowLow:  low,
	}
	cand.Score = e.Score(cand, cfg)
	return cand, nil
}

// Score is the composite entry score: trend strength, pullback depth
// within the window channel, volume support, and momentum stability.
func (e *Evaluator) Score(c *models.ScoredCandidate, cfg *config.StrategyConfig) int {
	score := 0

	switch {
	case c.Slope >= 1.0:
		score += 20
	case c.Slope >= 0.5:
		score += 10
	}

	switch {
	case c.ChannelPos <= cfg.BuyingPowerThreshold:
		score += 15 // pullback into the buy zone
	case c.ChannelPos <= 0.6:
		score += 5
	}

	if c.VolRatio > cfg.VolSpikeRatio {
		score += 5
	}

	if c.RSI >= 40 && c.RSI <= 60 {
		score += 5
	}

	return score
}

// Eligible applies the entry thresholds to a scored candidate.
func (e *Evaluator) Eligible(c *models.ScoredCandidate, cfg *config.StrategyConfig) bool {
	if c == nil {
		return false
	}
	if c.Score < cfg.MinEntryScore {
		return false
	}
	if c.Slope < cfg.MinSlopeThreshold {
		return false
	}
	if c.RSI >= cfg.RSIThreshold {
		return false
	}
	return true
}

// Rank orders candidates best first: score descending, equal scores broken
// by the steeper slope.
func (e *Evaluator) Rank(cands []models.ScoredCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Slope > cands[j].Slope
	})
}

// MarketSafe is the global circuit breaker: entries are suppressed when
// the reference asset dropped too hard over the last hour or its window
// slope has turned down past the configured threshold.
func MarketSafe(cfg *config.MarketFilter, currentPrice, prevClose1h, refSlope float64) bool {
	if !cfg.Enabled {
		return true
	}
	if prevClose1h > 0 {
		drop := (currentPrice - prevClose1h) / prevClose1h
		if drop < cfg.DropThreshold1h {
			return false
		}
	}
	if refSlope < cfg.SlopeThreshold3h {
		return false
	}
	return true
}
