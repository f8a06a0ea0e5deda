package models

import (
	"time"
)

// Candle is one OHLCV bar for a market.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Ticker is a 24h market summary used for universe selection.
type Ticker struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"last_price"`
	TradeValue24h float64   `json:"trade_value_24h"`
	Timestamp     time.Time `json:"timestamp"`
}

// Balance is one currency holding on the exchange account.
type Balance struct {
	Currency    string  `json:"currency"`
	Amount      float64 `json:"amount"`
	Locked      float64 `json:"locked"`
	AvgBuyPrice float64 `json:"avg_buy_price"`
}
