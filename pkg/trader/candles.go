package trader

import (
	"errors"
	"fmt"
	"sync"

	"trendtrader/pkg/models"
)

// ErrInsufficientHistory means a symbol has fewer cached candles than the
// requested window. Callers skip the symbol for the tick; it is not an
// operator-visible failure.
var ErrInsufficientHistory = errors.New("insufficient candle history")

// CandleCache holds the most recent candles per symbol, bounded per symbol.
// No network access; the scheduler feeds it from the gateway.
type CandleCache struct {
	mu      sync.RWMutex
	series  map[string][]models.Candle
	maxBars int
}

func NewCandleCache(maxBars int) *CandleCache {
	return &CandleCache{
		series:  make(map[string][]models.Candle),
		maxBars: maxBars,
	}
}

// Update appends or merges new bars for a symbol. Bars are matched by
// timestamp: a bar with a known timestamp replaces the cached one (the
// current candle keeps updating until it closes), newer bars append.
// Oldest bars fall off once the series exceeds the cache bound.
func (c *CandleCache) Update(symbol string, candles []models.Candle) {
	if len(candles) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	series := c.series[symbol]
	for _, nc := range candles {
		if n := len(series); n > 0 && !nc.Timestamp.After(series[n-1].Timestamp) {
			// Replace in place when the timestamp is already cached.
			replaced := false
			for i := n - 1; i >= 0; i-- {
				if series[i].Timestamp.Equal(nc.Timestamp) {
					series[i] = nc
					replaced = true
					break
				}
				if series[i].Timestamp.Before(nc.Timestamp) {
					break
				}
			}
			if !replaced {
				continue // older than everything retained, drop
			}
		} else {
			series = append(series, nc)
		}
	}

	if len(series) > c.maxBars {
		series = append([]models.Candle(nil), series[len(series)-c.maxBars:]...)
	}
	c.series[symbol] = series
}

// Window returns the latest count candles for a symbol in chronological
// order, or ErrInsufficientHistory if fewer are cached.
func (c *CandleCache) Window(symbol string, count int) ([]models.Candle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	series := c.series[symbol]
	if len(series) < count {
		return nil, fmt.Errorf("%w: %s has %d of %d candles", ErrInsufficientHistory, symbol, len(series), count)
	}
	out := make([]models.Candle, count)
	copy(out, series[len(series)-count:])
	return out, nil
}

// Len reports how many candles are cached for a symbol.
func (c *CandleCache) Len(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.series[symbol])
}

// Drop forgets a symbol's series, freeing the slot for evicted universe
// members.
func (c *CandleCache) Drop(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.series, symbol)
}
