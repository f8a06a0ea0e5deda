package upbit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trendtrader/pkg/models"
)

// PaperGateway simulates execution against live market data: quotes,
// candles and the universe come from the real client, but orders and
// balances live in memory. Limit orders fill when the live price crosses
// their limit.
type PaperGateway struct {
	data   *Client
	logger *logrus.Logger

	mu       sync.Mutex
	quote    float64 // simulated quote-currency balance
	holdings map[string]float64
	avgCosts map[string]float64
	orders   map[string]*models.Order
}

func NewPaperGateway(data *Client, startingQuote float64, logger *logrus.Logger) *PaperGateway {
	return &PaperGateway{
		data:     data,
		logger:   logger,
		quote:    startingQuote,
		holdings: make(map[string]float64),
		avgCosts: make(map[string]float64),
		orders:   make(map[string]*models.Order),
	}
}

func (p *PaperGateway) Name() string { return "paper" }

func (p *PaperGateway) LatestQuote(ctx context.Context, symbol string) (float64, error) {
	return p.data.LatestQuote(ctx, symbol)
}

func (p *PaperGateway) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	return p.data.Quotes(ctx, symbols)
}

func (p *PaperGateway) Candles(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error) {
	return p.data.Candles(ctx, symbol, interval, count)
}

func (p *PaperGateway) Universe(ctx context.Context, quote string, minValue24h float64, topN int) ([]models.Ticker, error) {
	return p.data.Universe(ctx, quote, minValue24h, topN)
}

func (p *PaperGateway) PlaceLimitBuy(ctx context.Context, symbol string, price, volume float64) (string, error) {
	return p.record(symbol, models.OrderSideBuy, models.OrderTypeLimit, price, volume)
}

func (p *PaperGateway) PlaceLimitSell(ctx context.Context, symbol string, price, volume float64) (string, error) {
	return p.record(symbol, models.OrderSideSell, models.OrderTypeLimit, price, volume)
}

func (p *PaperGateway) PlaceMarketBuy(ctx context.Context, symbol string, funds float64) (string, error) {
	price, err := p.data.LatestQuote(ctx, symbol)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if funds > p.quote {
		return "", models.NewGatewayError(models.GatewayRejected, "paper market buy",
			fmt.Errorf("insufficient balance %.0f < %.0f", p.quote, funds))
	}
	volume := funds / price
	p.settle(symbol, models.OrderSideBuy, price, volume)

	id := uuid.NewString()
	p.orders[id] = &models.Order{
		OrderID: id, Symbol: symbol, Side: models.OrderSideBuy, Type: models.OrderTypeMarket,
		Price: price, Volume: volume, ExecutedVolume: volume, ExecutedFunds: funds,
		Status: models.OrderStatusFilled, CreatedAt: time.Now().UTC(),
	}
	return id, nil
}

func (p *PaperGateway) PlaceMarketSell(ctx context.Context, symbol string, volume float64) (string, error) {
	price, err := p.data.LatestQuote(ctx, symbol)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.holdings[symbol] < volume {
		return "", models.NewGatewayError(models.GatewayRejected, "paper market sell",
			fmt.Errorf("insufficient holding %.8f < %.8f", p.holdings[symbol], volume))
	}
	p.settle(symbol, models.OrderSideSell, price, volume)

	id := uuid.NewString()
	p.orders[id] = &models.Order{
		OrderID: id, Symbol: symbol, Side: models.OrderSideSell, Type: models.OrderTypeMarket,
		Price: price, Volume: volume, ExecutedVolume: volume, ExecutedFunds: price * volume,
		Status: models.OrderStatusFilled, CreatedAt: time.Now().UTC(),
	}
	return id, nil
}

func (p *PaperGateway) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return models.NewGatewayError(models.GatewayRejected, "paper cancel", fmt.Errorf("unknown order %s", orderID))
	}
	if order.Status == models.OrderStatusOpen || order.Status == models.OrderStatusPartiallyFilled {
		order.Status = models.OrderStatusCancelled
	}
	return nil
}

// OrderStatus re-checks resting limit orders against the live price and
// fills them when crossed.
func (p *PaperGateway) OrderStatus(ctx context.Context, orderID string) (*models.Order, error) {
	p.mu.Lock()
	order, ok := p.orders[orderID]
	p.mu.Unlock()
	if !ok {
		return nil, models.NewGatewayError(models.GatewayRejected, "paper order status", fmt.Errorf("unknown order %s", orderID))
	}

	if order.Type == models.OrderTypeLimit && order.Status == models.OrderStatusOpen {
		price, err := p.data.LatestQuote(ctx, order.Symbol)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		crossed := (order.Side == models.OrderSideBuy && price <= order.Price) ||
			(order.Side == models.OrderSideSell && price >= order.Price)
		if crossed && order.Status == models.OrderStatusOpen {
			order.ExecutedVolume = order.Volume
			order.ExecutedFunds = order.Price * order.Volume
			order.Status = models.OrderStatusFilled
			p.settle(order.Symbol, order.Side, order.Price, order.Volume)
			p.logger.WithFields(logrus.Fields{
				"symbol": order.Symbol,
				"side":   order.Side,
				"price":  order.Price,
			}).Info("Paper limit order filled")
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *order
	return &copied, nil
}

func (p *PaperGateway) Balance(ctx context.Context, currency string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for symbol, volume := range p.holdings {
		if baseCurrency(symbol) == currency {
			return volume, nil
		}
	}
	return p.quote, nil
}

func (p *PaperGateway) Balances(ctx context.Context) ([]models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	balances := []models.Balance{{Currency: "KRW", Amount: p.quote}}
	for symbol, volume := range p.holdings {
		if volume <= 0 {
			continue
		}
		balances = append(balances, models.Balance{
			Currency:    baseCurrency(symbol),
			Amount:      volume,
			AvgBuyPrice: p.avgCosts[symbol],
		})
	}
	return balances, nil
}

// settle moves funds for a fill; caller holds p.mu.
func (p *PaperGateway) settle(symbol string, side models.OrderSide, price, volume float64) {
	if side == models.OrderSideBuy {
		held := p.holdings[symbol]
		cost := p.avgCosts[symbol]
		p.avgCosts[symbol] = (held*cost + volume*price) / (held + volume)
		p.holdings[symbol] = held + volume
		p.quote -= price * volume
	} else {
		p.holdings[symbol] -= volume
		p.quote += price * volume
		if p.holdings[symbol] <= 0 {
			delete(p.holdings, symbol)
			delete(p.avgCosts, symbol)
		}
	}
}

func (p *PaperGateway) record(symbol string, side models.OrderSide, typ models.OrderType, price, volume float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.NewString()
	p.orders[id] = &models.Order{
		OrderID: id, Symbol: symbol, Side: side, Type: typ,
		Price: price, Volume: volume,
		Status: models.OrderStatusOpen, CreatedAt: time.Now().UTC(),
	}
	return id, nil
}

func baseCurrency(symbol string) string {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return symbol
}
