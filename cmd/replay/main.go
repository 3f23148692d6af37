// Command replay runs recorded ticks through the candle/strategy pipeline
// against a paper venue. Useful for dry-running strategy configurations
// before pointing the bot at real money.
//
// Tick file format (CSV): channel,symbol,price,size,event_time
// where channel is "ticker" or "market_trades" and event_time is Unix seconds.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"candlebot/config"
	"candlebot/internal/candles"
	"candlebot/internal/engine"
	"candlebot/internal/lifecycle"
	"candlebot/internal/logger"
	"candlebot/internal/logq"
	"candlebot/internal/model"
	"candlebot/internal/prices"
	"candlebot/internal/strategy"
)

func main() {
	ticksPath := flag.String("ticks", "", "CSV tick file to replay")
	strategiesPath := flag.String("strategies", "strategies.yaml", "strategy bootstrap file")
	startBalance := flag.Float64("balance", 10000, "starting quote balance per currency")
	flag.Parse()

	logger.Init("replay", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	if *ticksPath == "" {
		slog.Error("missing -ticks file")
		os.Exit(1)
	}

	boot, err := config.LoadBootstrap(*strategiesPath)
	if err != nil {
		slog.Error("bootstrap load failed", "err", err)
		os.Exit(1)
	}
	if len(boot.Strategies) == 0 {
		slog.Error("no strategies to replay", "file", *strategiesPath)
		os.Exit(1)
	}

	events, err := readTicks(*ticksPath)
	if err != nil {
		slog.Error("tick file load failed", "err", err)
		os.Exit(1)
	}
	slog.Info("ticks loaded", "file", *ticksPath, "events", len(events))

	board := prices.NewBoard()
	registry := strategy.NewRegistry()
	logs := logq.New(1024)
	venue := newPaperVenue(board, decimal.NewFromFloat(*startBalance))

	mgr := lifecycle.NewManager(venue, logs, lifecycle.DefaultConfig())
	eng := engine.New(board, registry, nil, len(events)+1)

	for _, sc := range boot.Strategies {
		asset := syntheticAsset(sc.Symbol)
		b, ok := eng.Builder(sc.Symbol, sc.Timeframe)
		if !ok {
			seed, ok := seedFromFirstTrade(events, asset, sc.Timeframe)
			if !ok {
				slog.Warn("no trades for symbol in tick file, skipping strategy", "symbol", sc.Symbol)
				continue
			}
			series, err := candles.NewSeries(asset, sc.Timeframe)
			if err != nil {
				slog.Error("series init failed", "err", err)
				os.Exit(1)
			}
			if err := series.Seed([]model.Candle{seed}); err != nil {
				slog.Error("series seed failed", "err", err)
				os.Exit(1)
			}
			b = candles.NewBuilder(series)
			b.StaleAfter = 0 // historical timestamps are always "stale"
			eng.AddBuilder(b)
		}
		s, err := strategy.New(sc, b.Series(), mgr)
		if err != nil {
			slog.Error("strategy init failed", "type", sc.Type, "symbol", sc.Symbol, "err", err)
			os.Exit(1)
		}
		if err := registry.Add(s); err != nil {
			slog.Error("strategy registration failed", "err", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	in := eng.Events()
	for _, ev := range events {
		in <- ev
	}
	close(in)
	<-done
	mgr.Wait()

	printSummary(registry, logs)
}

// readTicks parses the CSV tick file, skipping a header row if present.
func readTicks(path string) ([]model.MarketEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 5

	var events []model.MarketEvent
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && rec[0] == "channel" {
			continue
		}

		price, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad price %q", line, rec[2])
		}
		size, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad size %q", line, rec[3])
		}
		ts, err := strconv.ParseInt(rec[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad event_time %q", line, rec[4])
		}

		events = append(events, model.MarketEvent{
			Channel:   model.Channel(rec[0]),
			Symbol:    rec[1],
			Price:     price,
			Size:      size,
			EventTime: ts,
		})
	}
	return events, nil
}

// seedFromFirstTrade builds the initial candle from the first trade tick of
// the symbol, aligned to the timeframe boundary.
func seedFromFirstTrade(events []model.MarketEvent, asset model.Asset, tf model.Timeframe) (model.Candle, bool) {
	interval := tf.Seconds()
	for _, ev := range events {
		if ev.Channel != model.ChannelTrades || ev.Symbol != asset.Symbol {
			continue
		}
		ts := ev.EventTime - ev.EventTime%interval
		return model.Candle{
			Timestamp: ts,
			Open:      ev.Price,
			High:      ev.Price,
			Low:       ev.Price,
			Close:     ev.Price,
			Volume:    ev.Size,
		}, true
	}
	return model.Candle{}, false
}

// syntheticAsset derives an asset from a product id like "BTC-USD" with
// typical venue increments.
func syntheticAsset(symbol string) model.Asset {
	base, quote := symbol, "USD"
	if i := strings.Index(symbol, "-"); i > 0 {
		base, quote = symbol[:i], symbol[i+1:]
	}
	return model.Asset{
		Symbol:         symbol,
		BaseCurrency:   base,
		QuoteCurrency:  quote,
		QuoteIncrement: 2,
		BaseIncrement:  8,
	}
}

func printSummary(registry *strategy.Registry, logs *logq.Queue) {
	total := 0.0
	for _, s := range registry.All() {
		trades := s.Trades()
		pnl := 0.0
		closed := 0
		for _, t := range trades {
			pnl += t.PnL
			if t.Status == model.TradeClosed {
				closed++
			}
		}
		total += pnl
		slog.Info("strategy result",
			"strategy", s.Name(), "trades", len(trades), "closed", closed,
			"pnl", strconv.FormatFloat(pnl, 'f', 2, 64))
	}
	slog.Info("replay done", "total_pnl", strconv.FormatFloat(total, 'f', 2, 64))

	for _, e := range logs.Drain() {
		slog.Debug("activity", "msg", e.Message)
	}
}

// paperVenue fills every market order instantly at the current board price.
type paperVenue struct {
	mu       sync.Mutex
	board    *prices.Board
	balances map[string]decimal.Decimal
	start    decimal.Decimal
	seq      int
}

func newPaperVenue(board *prices.Board, start decimal.Decimal) *paperVenue {
	return &paperVenue{
		board:    board,
		balances: make(map[string]decimal.Decimal),
		start:    start,
	}
}

func (v *paperVenue) HistoricalCandles(context.Context, model.Asset, model.Timeframe) ([]model.Candle, error) {
	return nil, fmt.Errorf("paper venue has no history")
}

func (v *paperVenue) Balance(_ context.Context, currency string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.balances[currency]
	if !ok {
		b = v.start
		v.balances[currency] = b
	}
	return b, nil
}

func (v *paperVenue) PlaceOrder(_ context.Context, asset model.Asset, side model.OrderSide, _ model.OrderType,
	quantity, _ decimal.Decimal) (*model.OrderStatus, error) {
	q, ok := v.board.Get(asset.Symbol)
	if !ok {
		return nil, fmt.Errorf("no price for %s yet", asset.Symbol)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++

	// Spend from the funding currency; the acquired side is not tracked
	// beyond what position sizing reads back.
	currency := asset.QuoteCurrency
	if side == model.SideSell {
		currency = asset.BaseCurrency
	}
	if b, ok := v.balances[currency]; ok {
		v.balances[currency] = b.Sub(quantity)
	}

	return &model.OrderStatus{
		OrderID:      fmt.Sprintf("paper-%d", v.seq),
		Status:       model.OrderFilled,
		AvgFillPrice: q.Bid,
	}, nil
}

func (v *paperVenue) OrderStatus(_ context.Context, orderID string) (*model.OrderStatus, error) {
	return &model.OrderStatus{OrderID: orderID, Status: model.OrderFilled}, nil
}
