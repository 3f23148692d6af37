package strategy

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"candlebot/internal/candles"
	"candlebot/internal/lifecycle"
	"candlebot/internal/logq"
	"candlebot/internal/model"
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

func (v *stubVenue) orders() []model.OrderSide {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.OrderSide, len(v.placed))
	copy(out, v.placed)
	return out
}

func seriesFromCloses(t *testing.T, closes []float64) *candles.Series {
	t.Helper()
	s, err := candles.NewSeries(testAsset, model.OneMinute)
	if err != nil {
		t.Fatal(err)
	}
	history := make([]model.Candle, len(closes))
	base := int64(1_700_000_000)
	for i, c := range closes {
		history[i] = model.Candle{
			Timestamp: base + int64(i)*60,
			Open:      c, High: c, Low: c, Close: c,
			Volume: 1,
		}
	}
	if err := s.Seed(history); err != nil {
		t.Fatal(err)
	}
	return s
}

func seriesFromCandles(t *testing.T, history []model.Candle) *candles.Series {
	t.Helper()
	s, err := candles.NewSeries(testAsset, model.OneMinute)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Seed(history); err != nil {
		t.Fatal(err)
	}
	return s
}

func technicalConfig() Config {
	return Config{
		Type: TypeTechnical, Symbol: testAsset.Symbol, Timeframe: model.OneMinute,
		BalancePct: 10, TakeProfitPct: 1, StopLossPct: 1,
		RSILength: 2, EMAFast: 2, EMASlow: 3, EMASignal: 2,
	}
}

func breakoutConfig(minVolume float64) Config {
	return Config{
		Type: TypeBreakout, Symbol: testAsset.Symbol, Timeframe: model.OneMinute,
		BalancePct: 10, TakeProfitPct: 1, StopLossPct: 1,
		MinVolume: minVolume,
	}
}

func newStrategy(t *testing.T, cfg Config, series *candles.Series, venue *stubVenue) Strategy {
	t.Helper()
	mgr := lifecycle.NewManager(venue, logq.New(16), lifecycle.DefaultConfig())
	s, err := New(cfg, series, mgr)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConfig_Validate(t *testing.T) {
	if err := technicalConfig().Validate(); err != nil {
		t.Fatalf("valid technical config rejected: %v", err)
	}
	if err := breakoutConfig(100).Validate(); err != nil {
		t.Fatalf("valid breakout config rejected: %v", err)
	}

	bad := technicalConfig()
	bad.Type = "momentum"
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown type accepted")
	}

	bad = technicalConfig()
	bad.EMAFast, bad.EMASlow = 26, 12
	if err := bad.Validate(); err == nil {
		t.Fatal("ema_fast >= ema_slow accepted")
	}

	bad = technicalConfig()
	bad.Timeframe = "TEN_MINUTE"
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown timeframe accepted")
	}

	bad = technicalConfig()
	bad.BalancePct = 150
	if err := bad.Validate(); err == nil {
		t.Fatal("balance_pct above 100 accepted")
	}
}

func TestTechnical_LongSignal(t *testing.T) {
	// Steep decline keeps RSI pinned low; the small bounce at the last
	// closed bar lifts the MACD line above its signal line.
	series := seriesFromCloses(t, []float64{100, 90, 80, 70, 60, 50, 51, 50})
	venue := &stubVenue{}
	s := newStrategy(t, technicalConfig(), series, venue)

	s.OnCandleEvent(context.Background(), candles.EventNewCandle)

	orders := venue.orders()
	if len(orders) != 1 || orders[0] != model.SideBuy {
		t.Fatalf("orders = %v, want one BUY", orders)
	}
	trades := s.Trades()
	if len(trades) != 1 || trades[0].Side != model.SideLong {
		t.Fatalf("trades = %+v, want one long", trades)
	}
}

func TestTechnical_ShortSignal(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 110, 120, 130, 140, 150, 149, 150})
	venue := &stubVenue{}
	s := newStrategy(t, technicalConfig(), series, venue)

	s.OnCandleEvent(context.Background(), candles.EventNewCandle)

	orders := venue.orders()
	if len(orders) != 1 || orders[0] != model.SideSell {
		t.Fatalf("orders = %v, want one SELL", orders)
	}
}

func TestTechnical_NeutralStaysFlat(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 101, 100, 101, 100, 101, 100, 101})
	venue := &stubVenue{}
	s := newStrategy(t, technicalConfig(), series, venue)

	s.OnCandleEvent(context.Background(), candles.EventNewCandle)

	if n := len(venue.orders()); n != 0 {
		t.Fatalf("placed %d orders on a rangebound series, want 0", n)
	}
}

func TestTechnical_IgnoresSameCandleUpdates(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 90, 80, 70, 60, 50, 51, 50})
	venue := &stubVenue{}
	s := newStrategy(t, technicalConfig(), series, venue)

	s.OnCandleEvent(context.Background(), candles.EventSameCandle)
	s.OnCandleEvent(context.Background(), candles.EventNone)

	if n := len(venue.orders()); n != 0 {
		t.Fatalf("placed %d orders without a candle close, want 0", n)
	}
}

func TestTechnical_InsufficientHistory(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 50})
	venue := &stubVenue{}
	s := newStrategy(t, technicalConfig(), series, venue)

	s.OnCandleEvent(context.Background(), candles.EventNewCandle)

	if n := len(venue.orders()); n != 0 {
		t.Fatalf("placed %d orders with two candles, want 0", n)
	}
}

func TestBreakout_LongBreak(t *testing.T) {
	base := int64(1_700_000_000)
	series := seriesFromCandles(t, []model.Candle{
		{Timestamp: base, Open: 100, High: 105, Low: 99, Close: 104, Volume: 3},
		{Timestamp: base + 60, Open: 104, High: 106, Low: 103, Close: 106, Volume: 5},
	})
	venue := &stubVenue{}
	s := newStrategy(t, breakoutConfig(2), series, venue)

	s.OnCandleEvent(context.Background(), candles.EventSameCandle)

	orders := venue.orders()
	if len(orders) != 1 || orders[0] != model.SideBuy {
		t.Fatalf("orders = %v, want one BUY", orders)
	}
}

func TestBreakout_ShortBreak(t *testing.T) {
	base := int64(1_700_000_000)
	series := seriesFromCandles(t, []model.Candle{
		{Timestamp: base, Open: 100, High: 105, Low: 99, Close: 100, Volume: 3},
		{Timestamp: base + 60, Open: 100, High: 100, Low: 98, Close: 98.5, Volume: 5},
	})
	venue := &stubVenue{}
	s := newStrategy(t, breakoutConfig(2), series, venue)

	s.OnCandleEvent(context.Background(), candles.EventNewCandle)

	orders := venue.orders()
	if len(orders) != 1 || orders[0] != model.SideSell {
		t.Fatalf("orders = %v, want one SELL", orders)
	}
}

func TestBreakout_VolumeGate(t *testing.T) {
	base := int64(1_700_000_000)
	series := seriesFromCandles(t, []model.Candle{
		{Timestamp: base, Open: 100, High: 105, Low: 99, Close: 104, Volume: 3},
		{Timestamp: base + 60, Open: 104, High: 106, Low: 103, Close: 106, Volume: 2},
	})
	venue := &stubVenue{}
	s := newStrategy(t, breakoutConfig(2), series, venue)

	// Volume equal to the floor does not qualify.
	s.OnCandleEvent(context.Background(), candles.EventSameCandle)

	if n := len(venue.orders()); n != 0 {
		t.Fatalf("placed %d orders below the volume floor, want 0", n)
	}
}

func TestBreakout_InsideRangeStaysFlat(t *testing.T) {
	base := int64(1_700_000_000)
	series := seriesFromCandles(t, []model.Candle{
		{Timestamp: base, Open: 100, High: 105, Low: 99, Close: 104, Volume: 3},
		{Timestamp: base + 60, Open: 104, High: 104.5, Low: 101, Close: 103, Volume: 9},
	})
	venue := &stubVenue{}
	s := newStrategy(t, breakoutConfig(2), series, venue)

	s.OnCandleEvent(context.Background(), candles.EventSameCandle)

	if n := len(venue.orders()); n != 0 {
		t.Fatalf("placed %d orders inside the range, want 0", n)
	}
}

func TestBreakout_SingleCandleNoSignal(t *testing.T) {
	base := int64(1_700_000_000)
	series := seriesFromCandles(t, []model.Candle{
		{Timestamp: base, Open: 100, High: 105, Low: 99, Close: 104, Volume: 9},
	})
	venue := &stubVenue{}
	s := newStrategy(t, breakoutConfig(2), series, venue)

	s.OnCandleEvent(context.Background(), candles.EventSameCandle)

	if n := len(venue.orders()); n != 0 {
		t.Fatalf("placed %d orders with one candle, want 0", n)
	}
}

func TestReentrySuppression(t *testing.T) {
	base := int64(1_700_000_000)
	series := seriesFromCandles(t, []model.Candle{
		{Timestamp: base, Open: 100, High: 105, Low: 99, Close: 104, Volume: 3},
		{Timestamp: base + 60, Open: 104, High: 106, Low: 103, Close: 106, Volume: 5},
	})
	venue := &stubVenue{}
	s := newStrategy(t, breakoutConfig(2), series, venue)
	ctx := context.Background()

	// Repeated breakout prints while the position is live open nothing new.
	s.OnCandleEvent(ctx, candles.EventSameCandle)
	s.OnCandleEvent(ctx, candles.EventSameCandle)
	s.OnCandleEvent(ctx, candles.EventSameCandle)
	if n := len(venue.orders()); n != 1 {
		t.Fatalf("placed %d orders while position live, want 1", n)
	}

	// Stop loss closes the position (entry 100, 1% stop) and releases the
	// latch; the next breakout print can trade again.
	s.MarkPrice(ctx, model.Quote{Bid: 98.0, Ask: 98.01})
	s.OnCandleEvent(ctx, candles.EventSameCandle)

	orders := venue.orders()
	if len(orders) != 3 { // entry, exit, second entry
		t.Fatalf("orders = %v, want entry/exit/entry", orders)
	}
	if len(s.Trades()) != 2 {
		t.Fatalf("trades = %d, want 2", len(s.Trades()))
	}
}

func TestRegistry(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 101})
	venue := &stubVenue{}
	r := NewRegistry()

	s1 := newStrategy(t, breakoutConfig(2), series, venue)
	s2 := newStrategy(t, technicalConfig(), series, venue)

	if err := r.Add(s1); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(s2); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(s1); err == nil {
		t.Fatal("duplicate registration accepted")
	}

	if got := len(r.For(testAsset.Symbol, model.OneMinute)); got != 2 {
		t.Fatalf("For matched %d strategies, want 2", got)
	}
	if got := len(r.For(testAsset.Symbol, model.OneHour)); got != 0 {
		t.Fatalf("For matched %d strategies on wrong timeframe, want 0", got)
	}
	if got := len(r.ForSymbol("ETH-USD")); got != 0 {
		t.Fatalf("ForSymbol matched %d strategies on wrong symbol, want 0", got)
	}

	if !r.Remove(s1.Name()) {
		t.Fatal("Remove returned false for a registered strategy")
	}
	if r.Remove(s1.Name()) {
		t.Fatal("Remove returned true for an absent strategy")
	}
	if r.Len() != 1 {
		t.Fatalf("registry length = %d, want 1", r.Len())
	}
}
