// Package report periodically logs a status snapshot: watched prices at
// venue precision, open positions with live PnL, and any queued activity
// messages.
package report

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"candlebot/internal/logq"
	"candlebot/internal/model"
	"candlebot/internal/prices"
	"candlebot/internal/strategy"
)

// DefaultInterval is the stock reporting cadence.
const DefaultInterval = 2 * time.Second

// Reporter writes the periodic status snapshot to the log.
type Reporter struct {
	board    *prices.Board
	registry *strategy.Registry
	logs     *logq.Queue
	assets   map[string]model.Asset
	interval time.Duration
}

// New creates a reporter over the watched assets (symbol → asset, used for
// price precision).
func New(board *prices.Board, registry *strategy.Registry, logs *logq.Queue,
	assets map[string]model.Asset, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		board:    board,
		registry: registry,
		logs:     logs,
		assets:   assets,
		interval: interval,
	}
}

// Run reports on a ticker until the context is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	for symbol, asset := range r.assets {
		q, ok := r.board.Get(symbol)
		if !ok {
			continue
		}
		slog.Info("price",
			"symbol", symbol,
			"bid", formatPrice(q.Bid, asset.QuoteIncrement),
			"ask", formatPrice(q.Ask, asset.QuoteIncrement))
	}

	for _, s := range r.registry.All() {
		for _, t := range s.Trades() {
			if t.Status != model.TradeOpen || t.EntryPrice == nil {
				continue
			}
			slog.Info("open position",
				"strategy", t.StrategyName,
				"symbol", t.Asset.Symbol,
				"side", string(t.Side),
				"entry", formatPrice(*t.EntryPrice, t.Asset.QuoteIncrement),
				"pnl", strconv.FormatFloat(t.PnL, 'f', 2, 64))
		}
	}

	for _, e := range r.logs.Drain() {
		slog.Info("activity", "at", e.Time.Format(time.RFC3339), "msg", e.Message)
	}
}

// formatPrice renders a price at the venue's quote precision.
func formatPrice(v float64, places int32) string {
	return strconv.FormatFloat(v, 'f', int(places), 64)
}
