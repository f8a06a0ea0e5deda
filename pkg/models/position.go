package models

import (
	"time"
)

// PositionState is the lifecycle state of a slot's position.
type PositionState string

const (
	// StateEntryPending: a limit buy is resting on the book.
	StateEntryPending PositionState = "ENTRY_PENDING"
	// StateHeld: the entry filled and exit conditions are being watched.
	StateHeld PositionState = "HELD"
	// StateExitPending: a closing order is outstanding.
	StateExitPending PositionState = "EXIT_PENDING"
	// StateEntryCancelled: the entry timed out or was rejected; terminal.
	StateEntryCancelled PositionState = "ENTRY_CANCELLED"
	// StateClosed: the exit filled and the slot was released; terminal.
	StateClosed PositionState = "CLOSED"
)

// Terminal reports whether the state machine is finished.
func (s PositionState) Terminal() bool {
	return s == StateClosed || s == StateEntryCancelled
}

// Position is the engine's record of one slot. It is owned by the
// lifecycle engine; readers get copies.
type Position struct {
	Symbol string        `json:"symbol"`
	State  PositionState `json:"state"`

	// Entry bookkeeping. AvgEntryPrice moves on add-buys; InitialEntryPrice
	// keeps the first fill for reporting.
	AvgEntryPrice     float64   `json:"avg_entry_price"`
	InitialEntryPrice float64   `json:"initial_entry_price"`
	Volume            float64   `json:"volume"`
	EntryTime         time.Time `json:"entry_time"`

	// Exit bookkeeping.
	HighestPrice    float64 `json:"highest_price"`
	StopPrice       float64 `json:"stop_price"`
	BreakEvenActive bool    `json:"break_even_active"`
	AddBuyCount     int     `json:"add_buy_count"`

	// Trend snapshot captured at admission; seeds the take-profit target.
	EntryScore int     `json:"entry_score"`
	EntrySlope float64 `json:"entry_slope"`
	WindowHigh float64 `json:"window_high"`

	// Outstanding order, if any.
	Pending *PendingOrder `json:"pending,omitempty"`

	// Confirmation counters for noise-filtered triggers.
	StopConfirmTicks  int `json:"stop_confirm_ticks,omitempty"`
	TrailConfirmTicks int `json:"trail_confirm_ticks,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (p *Position) Clone() *Position {
	c := *p
	if p.Pending != nil {
		pd := *p.Pending
		c.Pending = &pd
	}
	return &c
}

// ScoredCandidate is one symbol's evaluation for a scan tick.
type ScoredCandidate struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Score      int     `json:"score"`
	Slope      float64 `json:"slope"`
	RSI        float64 `json:"rsi"`
	ChannelPos float64 `json:"channel_pos"`
	VolRatio   float64 `json:"vol_ratio"`
	WindowHigh float64 `json:"window_high"`
	WindowLow  float64 `json:"window_low"`
}

// TradeRecord is an archived round trip for reporting.
type TradeRecord struct {
	Symbol      string    `json:"symbol"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Volume      float64   `json:"volume"`
	PnL         float64   `json:"pnl"`
	ProfitRate  float64   `json:"profit_rate"`
	AddBuyCount int       `json:"add_buy_count"`
	Reason      string    `json:"reason"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
}
