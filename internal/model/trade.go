package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a trade.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// OrderSide maps the position direction to the venue order side that opens it.
func (s PositionSide) OrderSide() OrderSide {
	if s == SideLong {
		return SideBuy
	}
	return SideSell
}

// Trade lifecycle states visible outside the lifecycle manager.
const (
	TradeOpen   = "open"
	TradeClosed = "closed"
)

// Trade records one position opened by a strategy. EntryPrice is nil until
// the venue confirms a fill. Quantity is quote-denominated for longs and
// base-denominated for shorts, matching the venue's market-order semantics.
type Trade struct {
	OpenedAt     int64           `json:"opened_at"` // Unix seconds
	Asset        Asset           `json:"asset"`
	StrategyName string          `json:"strategy_name"`
	Side         PositionSide    `json:"side"`
	EntryPrice   *float64        `json:"entry_price,omitempty"`
	Status       string          `json:"status"`
	PnL          float64         `json:"pnl"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryOrderID string          `json:"entry_order_id"`
}

// JSON returns the JSON-encoded trade.
func (t *Trade) JSON() ([]byte, error) {
	return json.Marshal(t)
}
