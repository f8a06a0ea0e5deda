package trader

import (
	"errors"
	"testing"
	"time"

	"trendtrader/pkg/models"
)

func makeCandles(start time.Time, step time.Duration, closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * step),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func TestCandleCache_AppendAndWindow(t *testing.T) {
	cache := NewCandleCache(100)
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cache.Update("KRW-BTC", makeCandles(start, 15*time.Minute, 100, 101, 102, 103))

	window, err := cache.Window("KRW-BTC", 3)
	if err != nil {
		t.Fatal(err)
	}
	if window[0].Close != 101 || window[2].Close != 103 {
		t.Errorf("expected chronological window [101..103], got %v..%v", window[0].Close, window[2].Close)
	}
}

func TestCandleCache_CurrentBarReplaced(t *testing.T) {
	cache := NewCandleCache(100)
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cache.Update("KRW-BTC", makeCandles(start, 15*time.Minute, 100, 101))

	// Same timestamp for the last bar, new close: the open candle updated.
	update := makeCandles(start.Add(15*time.Minute), 15*time.Minute, 105)
	cache.Update("KRW-BTC", update)

	if cache.Len("KRW-BTC") != 2 {
		t.Fatalf("expected 2 candles after replace, got %d", cache.Len("KRW-BTC"))
	}
	window, _ := cache.Window("KRW-BTC", 1)
	if window[0].Close != 105 {
		t.Errorf("expected replaced close 105, got %v", window[0].Close)
	}
}

func TestCandleCache_EvictsOldest(t *testing.T) {
	cache := NewCandleCache(3)
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cache.Update("KRW-BTC", makeCandles(start, time.Minute, 1, 2, 3, 4, 5))

	if cache.Len("KRW-BTC") != 3 {
		t.Fatalf("expected bound of 3, got %d", cache.Len("KRW-BTC"))
	}
	window, _ := cache.Window("KRW-BTC", 3)
	if window[0].Close != 3 {
		t.Errorf("expected oldest retained close 3, got %v", window[0].Close)
	}
}

func TestCandleCache_InsufficientHistory(t *testing.T) {
	cache := NewCandleCache(100)
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cache.Update("KRW-BTC", makeCandles(start, time.Minute, 1, 2))

	_, err := cache.Window("KRW-BTC", 5)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("expected ErrInsufficientHistory, got %v", err)
	}
	_, err = cache.Window("KRW-UNKNOWN", 1)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("expected ErrInsufficientHistory for unknown symbol, got %v", err)
	}
}

func TestCandleCache_Drop(t *testing.T) {
	cache := NewCandleCache(100)
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cache.Update("KRW-BTC", makeCandles(start, time.Minute, 1, 2, 3))
	cache.Drop("KRW-BTC")
	if cache.Len("KRW-BTC") != 0 {
		t.Errorf("expected empty series after drop, got %d", cache.Len("KRW-BTC"))
	}
}
