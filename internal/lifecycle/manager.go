// Package lifecycle drives the order/trade state machine: position sizing,
// market-order placement, fill confirmation (polled when not immediate),
// live PnL marking, take-profit/stop-loss evaluation and position close.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"candlebot/internal/exchange"
	"candlebot/internal/logq"
	"candlebot/internal/model"
)

// Config tunes fill polling and exit policy.
type Config struct {
	// PollInterval is the delay between fill-status polls. Default 2s.
	PollInterval time.Duration

	// MaxPollAttempts bounds fill polling. 0 polls until filled or shutdown.
	MaxPollAttempts int

	// PollBackoff multiplies the interval after each unfilled poll.
	// Values <= 1 keep the interval fixed.
	PollBackoff float64

	// AllowShortTakeProfit enables the take-profit trigger on short trades.
	// Off by default: a short's exit-buy is re-entry fuel for long signals,
	// so shorts only exit via stop-loss unless explicitly enabled.
	AllowShortTakeProfit bool
}

// DefaultConfig returns the stock lifecycle settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
	}
}

// OpenRequest carries everything needed to open one position.
type OpenRequest struct {
	Asset         model.Asset
	Timeframe     model.Timeframe
	StrategyName  string
	Side          model.PositionSide
	BalancePct    float64
	TakeProfitPct float64
	StopLossPct   float64

	// OnClosed runs after the position closes; the owning strategy uses it
	// to clear its re-entry suppression flag.
	OnClosed func()
}

// Position wraps one Trade with the synchronization the lifecycle needs:
// fill recording and the read-check-then-close sequence are mutually
// exclusive per trade.
type Position struct {
	mu      sync.Mutex
	trade   model.Trade
	tpPct   float64
	slPct   float64
	onClose func()
	closing bool
}

// Snapshot returns a copy of the underlying trade.
func (p *Position) Snapshot() model.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trade
}

// Open reports whether the trade is still open (a closing-in-flight
// position counts as open; it is still economically live).
func (p *Position) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trade.Status == model.TradeOpen
}

// Manager opens, monitors and closes positions against a venue.
type Manager struct {
	venue exchange.Venue
	logs  *logq.Queue
	cfg   Config

	pollers sync.WaitGroup

	// Metrics hooks (optional, set externally).
	OnTradeOpened  func(model.Trade)
	OnTradeClosed  func(model.Trade)
	OnOrderFailure func()
	OnPollAttempt  func()
}

// NewManager creates a lifecycle manager.
func NewManager(venue exchange.Venue, logs *logq.Queue, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Manager{venue: venue, logs: logs, cfg: cfg}
}

// Wait blocks until every outstanding fill poller has stopped. Call after
// cancelling the context during shutdown so no timers outlive the process.
func (m *Manager) Wait() {
	m.pollers.Wait()
}

// OpenPosition sizes and submits the entry order and returns the tracked
// position, or nil when any step soft-fails (logged, no trade recorded).
func (m *Manager) OpenPosition(ctx context.Context, req OpenRequest) *Position {
	orderSide := req.Side.OrderSide()

	size, err := m.tradeSize(ctx, orderSide, req.Asset, req.BalancePct)
	if err != nil {
		slog.Warn("position sizing failed",
			"strategy", req.StrategyName, "symbol", req.Asset.Symbol, "err", err)
		return nil
	}

	m.logs.Push(fmt.Sprintf("%s signal on %s for %s", req.Side, req.Asset.Symbol, req.Timeframe))

	status, err := m.venue.PlaceOrder(ctx, req.Asset, orderSide, model.OrderMarket, size, decimal.Zero)
	if err != nil {
		slog.Warn("entry order failed",
			"strategy", req.StrategyName, "symbol", req.Asset.Symbol, "side", string(orderSide), "err", err)
		m.logs.Push(fmt.Sprintf("%s order on %s failed: %v", orderSide, req.Asset.Symbol, err))
		if m.OnOrderFailure != nil {
			m.OnOrderFailure()
		}
		return nil
	}

	m.logs.Push(fmt.Sprintf("%s order placed on %s | status: %s", orderSide, req.Asset.Symbol, status.Status))

	p := &Position{
		trade: model.Trade{
			OpenedAt:     time.Now().Unix(),
			Asset:        req.Asset,
			StrategyName: req.StrategyName,
			Side:         req.Side,
			Status:       model.TradeOpen,
			Quantity:     size,
			EntryOrderID: status.OrderID,
		},
		tpPct:   req.TakeProfitPct,
		slPct:   req.StopLossPct,
		onClose: req.OnClosed,
	}

	if status.Filled() {
		entry := status.AvgFillPrice
		p.trade.EntryPrice = &entry
	} else {
		m.pollers.Add(1)
		go m.pollFill(ctx, p)
	}

	if m.OnTradeOpened != nil {
		m.OnTradeOpened(p.Snapshot())
	}
	return p
}

// tradeSize computes the order quantity from the account balance. Buys are
// sized in the quote currency (rounded to the quote increment), sells in the
// base currency (rounded to the base increment).
func (m *Manager) tradeSize(ctx context.Context, side model.OrderSide, asset model.Asset, balancePct float64) (decimal.Decimal, error) {
	currency := asset.QuoteCurrency
	places := asset.QuoteIncrement
	if side == model.SideSell {
		currency = asset.BaseCurrency
		places = asset.BaseIncrement
	}

	balance, err := m.venue.Balance(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}

	size := balance.Mul(decimal.NewFromFloat(balancePct / 100)).Round(places)
	if size.IsZero() || size.IsNegative() {
		return decimal.Zero, fmt.Errorf("lifecycle: %s balance %s too small for %.2f%% position",
			currency, balance, balancePct)
	}

	slog.Info("position sized", "currency", currency, "balance", balance.String(), "size", size.String())
	return size, nil
}

// pollFill queries the entry order until it fills, the attempt budget runs
// out, or the context is cancelled.
func (m *Manager) pollFill(ctx context.Context, p *Position) {
	defer m.pollers.Done()

	interval := m.cfg.PollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		attempts++
		if m.OnPollAttempt != nil {
			m.OnPollAttempt()
		}

		status, err := m.venue.OrderStatus(ctx, p.trade.EntryOrderID)
		switch {
		case err != nil:
			slog.Warn("fill poll failed", "order_id", p.trade.EntryOrderID, "attempt", attempts, "err", err)
		case status.Filled():
			p.mu.Lock()
			if p.trade.Status == model.TradeOpen && p.trade.EntryPrice == nil {
				entry := status.AvgFillPrice
				p.trade.EntryPrice = &entry
				m.logs.Push(fmt.Sprintf("entry order on %s filled at %v", p.trade.Asset.Symbol, entry))
			}
			p.mu.Unlock()
			return
		default:
			slog.Info("entry order not filled yet",
				"order_id", p.trade.EntryOrderID, "status", status.Status, "attempt", attempts)
		}

		if m.cfg.MaxPollAttempts > 0 && attempts >= m.cfg.MaxPollAttempts {
			slog.Warn("fill polling budget exhausted, order left unconfirmed",
				"order_id", p.trade.EntryOrderID, "attempts", attempts)
			m.logs.Push(fmt.Sprintf("gave up confirming order %s after %d polls", p.trade.EntryOrderID, attempts))
			return
		}
		if m.cfg.PollBackoff > 1 {
			interval = time.Duration(float64(interval) * m.cfg.PollBackoff)
		}
		timer.Reset(interval)
	}
}

// MarkPrice refreshes the position's PnL from the latest quote and closes it
// when a take-profit or stop-loss threshold is crossed. Runs on every price
// update for the position's asset; no-op until the entry fill is confirmed.
func (m *Manager) MarkPrice(ctx context.Context, p *Position, q model.Quote) {
	p.mu.Lock()

	t := &p.trade
	if t.Status != model.TradeOpen || t.EntryPrice == nil || p.closing {
		p.mu.Unlock()
		return
	}

	entry := *t.EntryPrice
	qty, _ := t.Quantity.Float64()

	var price float64
	if t.Side == model.SideLong {
		price = q.Bid
		t.PnL = (q.Bid - entry) * (qty / entry)
	} else {
		price = q.Ask
		t.PnL = (entry - q.Ask) * qty
	}

	var tpHit, slHit bool
	switch t.Side {
	case model.SideLong:
		slHit = price <= entry*(1-p.slPct/100)
		tpHit = !slHit && price >= entry*(1+p.tpPct/100)
	case model.SideShort:
		slHit = price >= entry*(1+p.slPct/100)
		if m.cfg.AllowShortTakeProfit {
			tpHit = !slHit && price <= entry*(1-p.tpPct/100)
		}
	}

	if !tpHit && !slHit {
		p.mu.Unlock()
		return
	}

	reason := "take profit"
	if slHit {
		reason = "stop loss"
	}
	slog.Info("exit threshold crossed",
		"strategy", t.StrategyName, "symbol", t.Asset.Symbol, "side", string(t.Side),
		"entry", entry, "price", price, "reason", reason)
	m.logs.Push(fmt.Sprintf("%s for %s on %s", reason, t.Asset.Symbol, t.StrategyName))

	// Exit order is the inverse conversion of the entry quantity: a short's
	// exit-buy respends the base quantity as quote notional at the current
	// ask; a long's exit-sell converts the quote notional back to base units.
	ask := decimal.NewFromFloat(q.Ask)
	var exitSide model.OrderSide
	var exitQty decimal.Decimal
	if t.Side == model.SideLong {
		exitSide = model.SideSell
		exitQty = t.Quantity.Div(ask).Round(t.Asset.BaseIncrement)
	} else {
		exitSide = model.SideBuy
		exitQty = t.Quantity.Mul(ask).Round(t.Asset.QuoteIncrement)
	}

	asset := t.Asset
	p.closing = true
	p.mu.Unlock()

	// Venue call happens outside the lock; the closing flag keeps fill
	// recording and concurrent marks away meanwhile.
	status, err := m.venue.PlaceOrder(ctx, asset, exitSide, model.OrderMarket, exitQty, decimal.Zero)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closing = false

	if err != nil {
		// The position stays economically live; make that loudly visible.
		slog.Warn("exit order failed, position remains open",
			"strategy", t.StrategyName, "symbol", asset.Symbol, "side", string(exitSide), "err", err)
		m.logs.Push(fmt.Sprintf("exit order on %s FAILED, position still open: %v", asset.Symbol, err))
		if m.OnOrderFailure != nil {
			m.OnOrderFailure()
		}
		return
	}

	t.Quantity = exitQty
	t.Status = model.TradeClosed
	m.logs.Push(fmt.Sprintf("exit order on %s placed | status: %s", asset.Symbol, status.Status))

	if p.onClose != nil {
		p.onClose()
	}
	if m.OnTradeClosed != nil {
		m.OnTradeClosed(*t)
	}
}
