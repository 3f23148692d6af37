package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"candlebot/internal/model"
)

const reconnectDelay = 2 * time.Second

// FeedConfig holds the WebSocket feed settings.
type FeedConfig struct {
	APIKey    string
	APISecret string
	WSURL     string   // default: wss://advanced-trade-ws.coinbase.com
	Symbols   []string // product ids to subscribe
}

// Feed streams ticker and market_trades events for the configured symbols
// and pushes normalized MarketEvents into a channel. It owns reconnection:
// after any disruption it redials with a fixed delay and resubscribes, so
// consumers always resume receiving events on the same channel.
type Feed struct {
	cfg   FeedConfig
	wsURL string

	// OnReconnect is called on every (re)dial attempt after the first
	// (optional, set externally for metrics).
	OnReconnect func()
}

// NewFeed creates a feed.
func NewFeed(cfg FeedConfig) *Feed {
	u := cfg.WSURL
	if u == "" {
		u = defaultWSURL
	}
	return &Feed{cfg: cfg, wsURL: u}
}

// wire shapes of the Advanced Trade WebSocket messages we consume.
type wsMessage struct {
	Channel   string    `json:"channel"`
	Timestamp string    `json:"timestamp"`
	Events    []wsEvent `json:"events"`
}

type wsEvent struct {
	Tickers []wsTicker `json:"tickers"`
	Trades  []wsTrade  `json:"trades"`
}

type wsTicker struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}

type wsTrade struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
}

// Run dials the venue and streams events into out until ctx is cancelled.
// Connection errors trigger a redial after a fixed delay; they never
// propagate to the consumer.
func (f *Feed) Run(ctx context.Context, out chan<- model.MarketEvent) {
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first && f.OnReconnect != nil {
			f.OnReconnect()
		}
		first = false

		if err := f.connectAndStream(ctx, out); err != nil {
			slog.Error("feed connection lost", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *Feed) connectAndStream(ctx context.Context, out chan<- model.MarketEvent) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	slog.Info("feed connected", "url", f.wsURL, "symbols", len(f.cfg.Symbols))

	for _, channel := range []string{string(model.ChannelTicker), string(model.ChannelTrades)} {
		if err := f.subscribe(conn, channel); err != nil {
			return err
		}
	}

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		f.handleMessage(data, out)
	}
}

// subscribe sends one signed channel subscription.
func (f *Feed) subscribe(conn *websocket.Conn, channel string) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	joined := ""
	for i, s := range f.cfg.Symbols {
		if i > 0 {
			joined += ","
		}
		joined += s
	}
	mac := hmac.New(sha256.New, []byte(f.cfg.APISecret))
	mac.Write([]byte(ts + channel + joined))

	msg := map[string]any{
		"type":        "subscribe",
		"product_ids": f.cfg.Symbols,
		"channel":     channel,
		"api_key":     f.cfg.APIKey,
		"timestamp":   ts,
		"signature":   hex.EncodeToString(mac.Sum(nil)),
	}
	payload, err := gojson.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// handleMessage normalizes one raw frame into MarketEvents. Malformed frames
// are logged and dropped; they must never take down the read loop.
func (f *Feed) handleMessage(data []byte, out chan<- model.MarketEvent) {
	var msg wsMessage
	if err := gojson.Unmarshal(data, &msg); err != nil {
		slog.Warn("feed: undecodable frame", "err", err)
		return
	}

	switch msg.Channel {
	case string(model.ChannelTicker):
		for _, ev := range msg.Events {
			for _, tk := range ev.Tickers {
				price, err := strconv.ParseFloat(tk.Price, 64)
				if err != nil {
					slog.Warn("feed: bad ticker price", "symbol", tk.ProductID, "price", tk.Price)
					continue
				}
				emit(out, model.MarketEvent{
					Channel: model.ChannelTicker,
					Symbol:  tk.ProductID,
					Price:   price,
				})
			}
		}

	case string(model.ChannelTrades):
		ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
		if err != nil {
			slog.Warn("feed: bad trade timestamp", "timestamp", msg.Timestamp)
			return
		}
		for _, ev := range msg.Events {
			for _, tr := range ev.Trades {
				price, perr := strconv.ParseFloat(tr.Price, 64)
				size, serr := strconv.ParseFloat(tr.Size, 64)
				if perr != nil || serr != nil {
					slog.Warn("feed: bad trade fields", "symbol", tr.ProductID, "price", tr.Price, "size", tr.Size)
					continue
				}
				emit(out, model.MarketEvent{
					Channel:   model.ChannelTrades,
					Symbol:    tr.ProductID,
					Price:     price,
					Size:      size,
					EventTime: ts.Unix(),
				})
			}
		}
	}
}

// emit sends an event without blocking; a full consumer drops the event.
func emit(out chan<- model.MarketEvent, ev model.MarketEvent) {
	select {
	case out <- ev:
	default:
		slog.Warn("feed: event channel full, dropping", "channel", string(ev.Channel), "symbol", ev.Symbol)
	}
}
