// Package exchange implements the venue collaborators the trading core
// consumes: an authenticated REST client for orders, candles and balances,
// and a WebSocket feed that delivers normalized market events.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"candlebot/internal/model"
)

// Venue is the order/account surface the trade lifecycle depends on.
// Implementations return an error on any transport or venue failure; callers
// treat those as soft failures (log and skip the triggering action).
type Venue interface {
	// HistoricalCandles returns seed candles for the asset and timeframe,
	// in chronological order.
	HistoricalCandles(ctx context.Context, asset model.Asset, tf model.Timeframe) ([]model.Candle, error)

	// PlaceOrder submits an order. For market BUY orders quantity is in the
	// quote currency; for market SELL orders it is in the base currency.
	// limit is only consulted for limit orders.
	PlaceOrder(ctx context.Context, asset model.Asset, side model.OrderSide, typ model.OrderType,
		quantity decimal.Decimal, limit decimal.Decimal) (*model.OrderStatus, error)

	// OrderStatus fetches the venue's view of a submitted order.
	OrderStatus(ctx context.Context, orderID string) (*model.OrderStatus, error)

	// Balance returns the available balance of one currency.
	Balance(ctx context.Context, currency string) (decimal.Decimal, error)
}
