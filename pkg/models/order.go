package models

import (
	"time"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Order is the normalized view of an exchange order.
type Order struct {
	OrderID        string      `json:"order_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Price          float64     `json:"price"`
	Volume         float64     `json:"volume"`
	ExecutedVolume float64     `json:"executed_volume"`
	ExecutedFunds  float64     `json:"executed_funds"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AvgFillPrice returns the volume-weighted fill price, or the order's
// limit price when nothing executed yet.
func (o *Order) AvgFillPrice() float64 {
	if o.ExecutedVolume > 0 && o.ExecutedFunds > 0 {
		return o.ExecutedFunds / o.ExecutedVolume
	}
	return o.Price
}

// PendingOrderKind says why a position is waiting on an order.
type PendingOrderKind string

const (
	PendingEntry      PendingOrderKind = "entry"
	PendingExit       PendingOrderKind = "exit"
	PendingTakeProfit PendingOrderKind = "take_profit"
	PendingAddBuy     PendingOrderKind = "add_buy"
)

// PendingOrder tracks an order the lifecycle engine is supervising.
type PendingOrder struct {
	OrderID  string           `json:"order_id"`
	Side     OrderSide        `json:"side"`
	Kind     PendingOrderKind `json:"kind"`
	Price    float64          `json:"price"`
	Volume   float64          `json:"volume"`
	PlacedAt time.Time        `json:"placed_at"`
}
