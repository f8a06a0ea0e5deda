package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"trendtrader/pkg/models"
)

// Client talks to the Upbit REST API. All calls go through a shared rate
// limiter so bursts of position checks cannot trip the exchange's limits.
type Client struct {
	baseURL    string
	auth       *Authenticator
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

func NewClient(baseURL, accessKey, secretKey string, requestsPerSec float64, logger *logrus.Logger) *Client {
	if requestsPerSec <= 0 {
		requestsPerSec = 8
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       NewAuthenticator(accessKey, secretKey),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), int(requestsPerSec)),
		logger:     logger,
	}
}

func (c *Client) Name() string { return "upbit" }

// --- market data ---

type tickerResponse struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
	Timestamp        int64   `json:"timestamp"`
}

func (c *Client) LatestQuote(ctx context.Context, symbol string) (float64, error) {
	quotes, err := c.Quotes(ctx, []string{symbol})
	if err != nil {
		return 0, err
	}
	price, ok := quotes[symbol]
	if !ok {
		return 0, models.NewGatewayError(models.GatewayRejected, "quote", fmt.Errorf("no ticker for %s", symbol))
	}
	return price, nil
}

func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	tickers, err := c.tickers(ctx, symbols)
	if err != nil {
		return nil, err
	}
	quotes := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		quotes[t.Market] = t.TradePrice
	}
	return quotes, nil
}

func (c *Client) tickers(ctx context.Context, symbols []string) ([]tickerResponse, error) {
	q := url.Values{}
	q.Set("markets", strings.Join(symbols, ","))

	var tickers []tickerResponse
	if err := c.doPublic(ctx, "/v1/ticker", q, &tickers); err != nil {
		return nil, err
	}
	return tickers, nil
}

type candleResponse struct {
	DateTimeUTC string  `json:"candle_date_time_utc"`
	Opening     float64 `json:"opening_price"`
	High        float64 `json:"high_price"`
	Low         float64 `json:"low_price"`
	Trade       float64 `json:"trade_price"`
	Volume      float64 `json:"candle_acc_trade_volume"`
}

func (c *Client) Candles(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error) {
	path, err := candlePath(interval)
	if err != nil {
		return nil, models.NewGatewayError(models.GatewayRejected, "candles", err)
	}

	q := url.Values{}
	q.Set("market", symbol)
	q.Set("count", strconv.Itoa(count))

	var rows []candleResponse
	if err := c.doPublic(ctx, path, q, &rows); err != nil {
		return nil, err
	}

	// Upbit returns newest first; the engine wants chronological order.
	candles := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		ts, err := time.Parse("2006-01-02T15:04:05", r.DateTimeUTC)
		if err != nil {
			return nil, models.NewGatewayError(models.GatewayRejected, "candles",
				fmt.Errorf("bad candle timestamp %q: %w", r.DateTimeUTC, err))
		}
		candles = append(candles, models.Candle{
			Timestamp: ts.UTC(),
			Open:      r.Opening,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Trade,
			Volume:    r.Volume,
		})
	}
	return candles, nil
}

func candlePath(interval string) (string, error) {
	switch interval {
	case "1m", "3m", "5m", "10m", "15m", "30m", "60m":
		return "/v1/candles/minutes/" + strings.TrimSuffix(interval, "m"), nil
	case "1h":
		return "/v1/candles/minutes/60", nil
	case "4h":
		return "/v1/candles/minutes/240", nil
	case "1d":
		return "/v1/candles/days", nil
	default:
		return "", fmt.Errorf("unsupported candle interval %q", interval)
	}
}

type marketResponse struct {
	Market string `json:"market"`
}

func (c *Client) Universe(ctx context.Context, quote string, minValue24h float64, topN int) ([]models.Ticker, error) {
	var markets []marketResponse
	if err := c.doPublic(ctx, "/v1/market/all", url.Values{"isDetails": {"false"}}, &markets); err != nil {
		return nil, err
	}

	prefix := quote + "-"
	symbols := make([]string, 0, len(markets))
	for _, m := range markets {
		if strings.HasPrefix(m.Market, prefix) {
			symbols = append(symbols, m.Market)
		}
	}

	// The ticker endpoint caps the number of markets per request.
	const chunkSize = 50
	active := make([]models.Ticker, 0, topN)
	for i := 0; i < len(symbols); i += chunkSize {
		end := i + chunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		tickers, err := c.tickers(ctx, symbols[i:end])
		if err != nil {
			return nil, err
		}
		for _, t := range tickers {
			if t.AccTradePrice24h >= minValue24h {
				active = append(active, models.Ticker{
					Symbol:        t.Market,
					LastPrice:     t.TradePrice,
					TradeValue24h: t.AccTradePrice24h,
					Timestamp:     time.UnixMilli(t.Timestamp),
				})
			}
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].TradeValue24h > active[j].TradeValue24h
	})
	if len(active) > topN {
		active = active[:topN]
	}
	return active, nil
}

// --- orders ---

type orderResponse struct {
	UUID            string  `json:"uuid"`
	Side            string  `json:"side"`
	OrdType         string  `json:"ord_type"`
	State           string  `json:"state"`
	Market          string  `json:"market"`
	Price           string  `json:"price"`
	Volume          string  `json:"volume"`
	ExecutedVolume  string  `json:"executed_volume"`
	RemainingVolume string  `json:"remaining_volume"`
	CreatedAt       string  `json:"created_at"`
	Trades          []struct {
		Funds  string `json:"funds"`
		Volume string `json:"volume"`
	} `json:"trades"`
}

func (c *Client) PlaceLimitBuy(ctx context.Context, symbol string, price, volume float64) (string, error) {
	return c.placeOrder(ctx, url.Values{
		"market":   {symbol},
		"side":     {"bid"},
		"ord_type": {"limit"},
		"price":    {formatNumber(price)},
		"volume":   {formatNumber(volume)},
	})
}

func (c *Client) PlaceLimitSell(ctx context.Context, symbol string, price, volume float64) (string, error) {
	return c.placeOrder(ctx, url.Values{
		"market":   {symbol},
		"side":     {"ask"},
		"ord_type": {"limit"},
		"price":    {formatNumber(price)},
		"volume":   {formatNumber(volume)},
	})
}

// PlaceMarketBuy spends `funds` of the quote currency; Upbit calls this a
// "price" order.
func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, funds float64) (string, error) {
	return c.placeOrder(ctx, url.Values{
		"market":   {symbol},
		"side":     {"bid"},
		"ord_type": {"price"},
		"price":    {formatNumber(funds)},
	})
}

func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, volume float64) (string, error) {
	return c.placeOrder(ctx, url.Values{
		"market":   {symbol},
		"side":     {"ask"},
		"ord_type": {"market"},
		"volume":   {formatNumber(volume)},
	})
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (string, error) {
	var resp orderResponse
	if err := c.doPrivate(ctx, http.MethodPost, "/v1/orders", params, &resp); err != nil {
		return "", err
	}
	if resp.UUID == "" {
		return "", models.NewGatewayError(models.GatewayRejected, "place order",
			fmt.Errorf("exchange returned no order id"))
	}
	return resp.UUID, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	params := url.Values{"uuid": {orderID}}
	return c.doPrivate(ctx, http.MethodDelete, "/v1/order", params, &orderResponse{})
}

func (c *Client) OrderStatus(ctx context.Context, orderID string) (*models.Order, error) {
	params := url.Values{"uuid": {orderID}}
	var resp orderResponse
	if err := c.doPrivate(ctx, http.MethodGet, "/v1/order", params, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder()
}

func (r *orderResponse) toOrder() (*models.Order, error) {
	executed := parseFloat(r.ExecutedVolume)

	var status models.OrderStatus
	switch r.State {
	case "wait", "watch":
		status = models.OrderStatusOpen
		if executed > 0 {
			status = models.OrderStatusPartiallyFilled
		}
	case "done":
		status = models.OrderStatusFilled
	case "cancel":
		status = models.OrderStatusCancelled
	default:
		return nil, models.NewGatewayError(models.GatewayRejected, "order status",
			fmt.Errorf("unknown order state %q", r.State))
	}

	side := models.OrderSideBuy
	if r.Side == "ask" {
		side = models.OrderSideSell
	}
	typ := models.OrderTypeLimit
	if r.OrdType != "limit" {
		typ = models.OrderTypeMarket
	}

	var funds float64
	for _, t := range r.Trades {
		funds += parseFloat(t.Funds)
	}
	if funds == 0 && executed > 0 {
		funds = parseFloat(r.Price) * executed
	}

	createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)

	return &models.Order{
		OrderID:        r.UUID,
		Symbol:         r.Market,
		Side:           side,
		Type:           typ,
		Price:          parseFloat(r.Price),
		Volume:         parseFloat(r.Volume),
		ExecutedVolume: executed,
		ExecutedFunds:  funds,
		Status:         status,
		CreatedAt:      createdAt,
	}, nil
}

// --- account ---

type accountResponse struct {
	Currency    string `json:"currency"`
	Balance     string `json:"balance"`
	Locked      string `json:"locked"`
	AvgBuyPrice string `json:"avg_buy_price"`
}

func (c *Client) Balances(ctx context.Context) ([]models.Balance, error) {
	var accounts []accountResponse
	if err := c.doPrivate(ctx, http.MethodGet, "/v1/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	balances := make([]models.Balance, 0, len(accounts))
	for _, a := range accounts {
		balances = append(balances, models.Balance{
			Currency:    a.Currency,
			Amount:      parseFloat(a.Balance),
			Locked:      parseFloat(a.Locked),
			AvgBuyPrice: parseFloat(a.AvgBuyPrice),
		})
	}
	return balances, nil
}

func (c *Client) Balance(ctx context.Context, currency string) (float64, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Currency == currency {
			return b.Amount, nil
		}
	}
	return 0, nil
}

// --- transport ---

func (c *Client) doPublic(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, false, out)
}

func (c *Client) doPrivate(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	return c.do(ctx, method, path, query, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, signed bool, out interface{}) error {
	op := method + " " + path

	if err := c.limiter.Wait(ctx); err != nil {
		return models.NewGatewayError(models.GatewayTransient, op, err)
	}

	encoded := ""
	if query != nil {
		encoded = query.Encode()
	}

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target := c.baseURL + path
		if encoded != "" {
			target += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return models.NewGatewayError(models.GatewayTransient, op, err)
	}

	if signed {
		if err := c.auth.AddAuthHeaders(req, encoded); err != nil {
			return models.NewGatewayError(models.GatewayAuthFailure, op, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewGatewayError(models.GatewayTransient, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewGatewayError(models.GatewayTransient, op, err)
	}

	if resp.StatusCode >= 400 {
		kind := classifyStatus(resp.StatusCode)
		c.logger.WithFields(logrus.Fields{
			"op":     op,
			"status": resp.StatusCode,
			"kind":   kind,
		}).Warn("Exchange request failed")
		return models.NewGatewayError(kind, op,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return models.NewGatewayError(models.GatewayTransient, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func classifyStatus(status int) models.GatewayErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.GatewayAuthFailure
	case status == http.StatusTooManyRequests || status >= 500:
		return models.GatewayTransient
	default:
		return models.GatewayRejected
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
