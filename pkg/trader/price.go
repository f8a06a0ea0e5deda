package trader

import (
	"math"
)

// TickSize returns the KRW price increment Upbit accepts at a given price
// level. The ladder is deliberately conservative in the 500k–1M band, where
// the exchange applies coarser ticks for some markets.
func TickSize(price float64) float64 {
	switch {
	case price >= 2_000_000:
		return 1000
	case price >= 500_000:
		return 500
	case price >= 100_000:
		return 50
	case price >= 10_000:
		return 10
	case price >= 1_000:
		return 5
	case price >= 100:
		return 1
	case price >= 10:
		return 0.1
	case price >= 1:
		return 0.01
	case price >= 0.1:
		return 0.001
	case price >= 0.01:
		return 0.0001
	default:
		return 0.00001
	}
}

// RoundToTick snaps a price onto the exchange tick ladder. Prices with a
// tick of 1 KRW or more come back integral, since the order API rejects
// fractional KRW at those levels. The nudge keeps a price sitting on a
// tick midpoint from rounding down when price/tick lands a few ulps
// below the true ratio (55.55/0.1 is 555.4999… in binary).
func RoundToTick(price float64) float64 {
	tick := TickSize(price)
	rounded := tick * math.Round(price/tick+1e-9)
	if tick >= 1 {
		return math.Trunc(rounded)
	}
	return rounded
}
