package trader

import (
	"context"

	"trendtrader/pkg/models"
)

// Gateway is the surface the engine needs from the exchange. The real
// implementation lives in pkg/upbit; tests and dry runs use substitutes.
type Gateway interface {
	Name() string

	LatestQuote(ctx context.Context, symbol string) (float64, error)
	// Quotes fetches prices for several symbols in one call.
	Quotes(ctx context.Context, symbols []string) (map[string]float64, error)
	Candles(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error)
	// Universe returns the markets quoted in `quote` whose 24h traded value
	// clears minValue24h, best first, at most topN.
	Universe(ctx context.Context, quote string, minValue24h float64, topN int) ([]models.Ticker, error)

	PlaceLimitBuy(ctx context.Context, symbol string, price, volume float64) (string, error)
	PlaceLimitSell(ctx context.Context, symbol string, price, volume float64) (string, error)
	// PlaceMarketBuy spends `funds` of the quote currency at market.
	PlaceMarketBuy(ctx context.Context, symbol string, funds float64) (string, error)
	PlaceMarketSell(ctx context.Context, symbol string, volume float64) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (*models.Order, error)

	Balance(ctx context.Context, currency string) (float64, error)
	Balances(ctx context.Context) ([]models.Balance, error)
}
