package model

// OrderSide is the venue-facing side of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the venue-facing order type.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// Order fill states as reported by the venue.
const (
	OrderFilled = "FILLED"
)

// OrderStatus is the venue's view of a submitted order.
type OrderStatus struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"` // e.g. OPEN, FILLED, CANCELLED
	AvgFillPrice float64 `json:"avg_filled_price"`
}

// Filled reports whether the order has fully executed.
func (o *OrderStatus) Filled() bool {
	return o.Status == OrderFilled
}
