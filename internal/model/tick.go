package model

// Channel identifies the market-data feed a MarketEvent arrived on.
type Channel string

const (
	ChannelTicker Channel = "ticker"
	ChannelTrades Channel = "market_trades"
)

// MarketEvent is a normalized inbound market-data event. Ticker events carry
// the latest price (bid and ask collapse to the trade price on this feed);
// trade events additionally carry the executed size and the venue timestamp.
type MarketEvent struct {
	Channel   Channel `json:"channel"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	EventTime int64   `json:"event_time"` // Unix seconds from the venue
}

// Quote is a per-asset bid/ask snapshot with last-writer-wins semantics.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}
