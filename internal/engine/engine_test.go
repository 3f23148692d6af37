package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"candlebot/internal/candles"
	"candlebot/internal/lifecycle"
	"candlebot/internal/logq"
	"candlebot/internal/model"
	"candlebot/internal/prices"
	"candlebot/internal/strategy"
)

var testAsset = model.Asset{
	Symbol:         "BTC-USD",
	BaseCurrency:   "BTC",
	QuoteCurrency:  "USD",
	QuoteIncrement: 2,
	BaseIncrement:  8,
}

type stubVenue struct {
	mu     sync.Mutex
	placed []model.OrderSide
}

func (v *stubVenue) HistoricalCandles(context.Context, model.Asset, model.Timeframe) ([]model.Candle, error) {
	return nil, nil
}

func (v *stubVenue) PlaceOrder(_ context.Context, _ model.Asset, side model.OrderSide, _ model.OrderType,
	_, _ decimal.Decimal) (*model.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placed = append(v.placed, side)
	return &model.OrderStatus{OrderID: "o1", Status: model.OrderFilled, AvgFillPrice: 100}, nil
}

func (v *stubVenue) OrderStatus(_ context.Context, orderID string) (*model.OrderStatus, error) {
	return &model.OrderStatus{OrderID: orderID, Status: model.OrderFilled, AvgFillPrice: 100}, nil
}

func (v *stubVenue) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

func (v *stubVenue) orderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.placed)
}

// panicker blows up on every dispatch; used to prove fault isolation.
type panicker struct {
	asset model.Asset
	tf    model.Timeframe
}

func (p *panicker) Name() string                                { return "panicker" }
func (p *panicker) Asset() model.Asset                          { return p.asset }
func (p *panicker) Timeframe() model.Timeframe                  { return p.tf }
func (p *panicker) OnCandleEvent(context.Context, candles.Event) { panic("boom") }
func (p *panicker) MarkPrice(context.Context, model.Quote)       { panic("boom") }
func (p *panicker) Trades() []model.Trade                        { return nil }

const seedTS = int64(1_700_000_000)

func seededBuilder(t *testing.T) *candles.Builder {
	t.Helper()
	series, err := candles.NewSeries(testAsset, model.OneMinute)
	if err != nil {
		t.Fatal(err)
	}
	err = series.Seed([]model.Candle{
		{Timestamp: seedTS, Open: 100, High: 105, Low: 99, Close: 104, Volume: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	return candles.NewBuilder(series)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestEngine_TradeSignalAndStopLoss(t *testing.T) {
	venue := &stubVenue{}
	board := prices.NewBoard()
	registry := strategy.NewRegistry()
	mgr := lifecycle.NewManager(venue, logq.New(16), lifecycle.DefaultConfig())

	builder := seededBuilder(t)
	s, err := strategy.New(strategy.Config{
		Type: strategy.TypeBreakout, Symbol: testAsset.Symbol, Timeframe: model.OneMinute,
		BalancePct: 10, TakeProfitPct: 1, StopLossPct: 1, MinVolume: 2,
	}, builder.Series(), mgr)
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.Add(s); err != nil {
		t.Fatal(err)
	}

	e := New(board, registry, nil, 16)
	e.AddBuilder(builder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { e.Run(ctx); close(done) }()

	// Breakout print: closes above the seeded high on qualifying volume.
	e.Submit(model.MarketEvent{
		Channel: model.ChannelTrades, Symbol: testAsset.Symbol,
		Price: 106, Size: 5, EventTime: seedTS + 61,
	})
	waitFor(t, func() bool { return venue.orderCount() == 1 }, "entry order never placed")

	// Ticker below the 1% stop (entry 100) marks and closes the position.
	e.Submit(model.MarketEvent{
		Channel: model.ChannelTicker, Symbol: testAsset.Symbol, Price: 98,
	})
	waitFor(t, func() bool { return venue.orderCount() == 2 }, "exit order never placed")

	if q, ok := board.Get(testAsset.Symbol); !ok || q.Bid != 98 {
		t.Fatalf("board quote = %+v (ok=%v), want bid 98", q, ok)
	}

	trades := s.Trades()
	if len(trades) != 1 || trades[0].Status != model.TradeClosed {
		t.Fatalf("trades = %+v, want one closed trade", trades)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}

func TestEngine_IgnoresUnknownSymbols(t *testing.T) {
	venue := &stubVenue{}
	board := prices.NewBoard()
	registry := strategy.NewRegistry()
	mgr := lifecycle.NewManager(venue, logq.New(16), lifecycle.DefaultConfig())

	builder := seededBuilder(t)
	s, err := strategy.New(strategy.Config{
		Type: strategy.TypeBreakout, Symbol: testAsset.Symbol, Timeframe: model.OneMinute,
		BalancePct: 10, TakeProfitPct: 1, StopLossPct: 1, MinVolume: 2,
	}, builder.Series(), mgr)
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.Add(s); err != nil {
		t.Fatal(err)
	}

	e := New(board, registry, nil, 16)
	e.AddBuilder(builder)

	ticks := 0
	var mu sync.Mutex
	e.OnTick = func(model.MarketEvent) { mu.Lock(); ticks++; mu.Unlock() }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { e.Run(ctx); close(done) }()

	e.Submit(model.MarketEvent{
		Channel: model.ChannelTrades, Symbol: "ETH-USD",
		Price: 9999, Size: 5, EventTime: seedTS + 61,
	})
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return ticks == 1 }, "event never processed")

	if builder.Series().Len() != 1 {
		t.Fatalf("foreign symbol mutated the series, len = %d", builder.Series().Len())
	}
	if venue.orderCount() != 0 {
		t.Fatal("foreign symbol produced an order")
	}

	cancel()
	<-done
}

func TestEngine_PanickingStrategyIsIsolated(t *testing.T) {
	venue := &stubVenue{}
	board := prices.NewBoard()
	registry := strategy.NewRegistry()
	mgr := lifecycle.NewManager(venue, logq.New(16), lifecycle.DefaultConfig())

	builder := seededBuilder(t)
	if err := registry.Add(&panicker{asset: testAsset, tf: model.OneMinute}); err != nil {
		t.Fatal(err)
	}
	s, err := strategy.New(strategy.Config{
		Type: strategy.TypeBreakout, Symbol: testAsset.Symbol, Timeframe: model.OneMinute,
		BalancePct: 10, TakeProfitPct: 1, StopLossPct: 1, MinVolume: 2,
	}, builder.Series(), mgr)
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.Add(s); err != nil {
		t.Fatal(err)
	}

	e := New(board, registry, nil, 16)
	e.AddBuilder(builder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { e.Run(ctx); close(done) }()

	e.Submit(model.MarketEvent{
		Channel: model.ChannelTrades, Symbol: testAsset.Symbol,
		Price: 106, Size: 5, EventTime: seedTS + 61,
	})

	// The healthy strategy still trades despite its panicking sibling.
	waitFor(t, func() bool { return venue.orderCount() == 1 }, "surviving strategy never traded")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine loop died with the panicking strategy")
	}
}

func TestEngine_SubmitDropsWhenFull(t *testing.T) {
	board := prices.NewBoard()
	registry := strategy.NewRegistry()

	e := New(board, registry, nil, 1)
	drops := 0
	e.OnDroppedEvent = func() { drops++ }

	// Engine not running: second submit overflows the buffer.
	if !e.Submit(model.MarketEvent{Channel: model.ChannelTicker, Symbol: "BTC-USD", Price: 1}) {
		t.Fatal("first submit rejected")
	}
	if e.Submit(model.MarketEvent{Channel: model.ChannelTicker, Symbol: "BTC-USD", Price: 2}) {
		t.Fatal("second submit accepted past capacity")
	}
	if drops != 1 {
		t.Fatalf("drops = %d, want 1", drops)
	}
}
