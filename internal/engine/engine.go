// Package engine runs the market-event dispatch loop: ticker events refresh
// the price board and mark open positions, trade events drive the candle
// builders and fan candle events out to the strategies watching each series.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"candlebot/internal/candles"
	"candlebot/internal/model"
	"candlebot/internal/prices"
	"candlebot/internal/store/redis"
	"candlebot/internal/strategy"
)

const (
	defaultEventBuffer   = 4096
	defaultPublishBuffer = 256
)

type builderKey struct {
	symbol string
	tf     model.Timeframe
}

type completedCandle struct {
	symbol string
	tf     model.Timeframe
	candle model.Candle
}

// Engine consumes normalized market events on a single goroutine. All candle
// mutation and strategy dispatch happens on that goroutine, so builders and
// strategies never see concurrent calls from the ingest path.
type Engine struct {
	events    chan model.MarketEvent
	completed chan completedCandle

	board     *prices.Board
	registry  *strategy.Registry
	publisher *redis.Publisher

	mu       sync.Mutex
	builders map[builderKey]*candles.Builder

	// Metrics hooks (optional, set before Run).
	OnTick         func(model.MarketEvent)
	OnCandleEvent  func(candles.Event)
	OnGapCandles   func(n int)
	OnStaleTick    func()
	OnDroppedEvent func()
	ObserveIngest  func(time.Duration)
}

// New creates an engine. publisher may be nil when Redis is not configured.
func New(board *prices.Board, registry *strategy.Registry, publisher *redis.Publisher, eventBuffer int) *Engine {
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	return &Engine{
		events:    make(chan model.MarketEvent, eventBuffer),
		completed: make(chan completedCandle, defaultPublishBuffer),
		board:     board,
		registry:  registry,
		publisher: publisher,
		builders:  make(map[builderKey]*candles.Builder),
	}
}

// Events returns the inbound channel the feed writes to.
func (e *Engine) Events() chan<- model.MarketEvent { return e.events }

// Submit offers an event to the engine without blocking. Returns false when
// the buffer is full and the event was dropped.
func (e *Engine) Submit(ev model.MarketEvent) bool {
	select {
	case e.events <- ev:
		return true
	default:
		if e.OnDroppedEvent != nil {
			e.OnDroppedEvent()
		}
		return false
	}
}

// AddBuilder registers the candle builder for one symbol/timeframe pair.
// Replaces any existing builder for the pair.
func (e *Engine) AddBuilder(b *candles.Builder) {
	series := b.Series()
	key := builderKey{symbol: series.Asset().Symbol, tf: series.Timeframe()}

	b.OnGapCandles = func(n int) {
		if e.OnGapCandles != nil {
			e.OnGapCandles(n)
		}
	}
	b.OnStaleTick = func() {
		if e.OnStaleTick != nil {
			e.OnStaleTick()
		}
	}

	e.mu.Lock()
	e.builders[key] = b
	e.mu.Unlock()
}

// Builder returns the builder for a symbol/timeframe pair, if registered.
func (e *Engine) Builder(symbol string, tf model.Timeframe) (*candles.Builder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.builders[builderKey{symbol: symbol, tf: tf}]
	return b, ok
}

// Run processes events until the context is cancelled or the event channel
// is closed. Completed candles are handed to a separate publish goroutine so
// Redis latency never stalls ingest.
func (e *Engine) Run(ctx context.Context) {
	var pubWG sync.WaitGroup
	pubWG.Add(1)
	go func() {
		defer pubWG.Done()
		e.publishLoop(ctx)
	}()
	defer func() {
		close(e.completed)
		pubWG.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			start := time.Now()
			e.handle(ctx, ev)
			if e.ObserveIngest != nil {
				e.ObserveIngest(time.Since(start))
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev model.MarketEvent) {
	if e.OnTick != nil {
		e.OnTick(ev)
	}

	switch ev.Channel {
	case model.ChannelTicker:
		q := model.Quote{Bid: ev.Price, Ask: ev.Price}
		e.board.Update(ev.Symbol, q)
		for _, s := range e.registry.ForSymbol(ev.Symbol) {
			e.safeDispatch(s.Name(), func() { s.MarkPrice(ctx, q) })
		}

	case model.ChannelTrades:
		for key, b := range e.buildersFor(ev.Symbol) {
			e.ingest(ctx, key, b, ev)
		}

	default:
		slog.Debug("unhandled market event channel", "channel", string(ev.Channel))
	}
}

func (e *Engine) ingest(ctx context.Context, key builderKey, b *candles.Builder, ev model.MarketEvent) {
	series := b.Series()
	prev, hadPrev := series.Last()

	evt, err := b.Ingest(ev.Price, ev.Size, ev.EventTime)
	if err != nil {
		slog.Warn("tick ingest failed", "symbol", key.symbol, "tf", string(key.tf), "err", err)
		return
	}
	if evt == candles.EventNone {
		return
	}

	if e.OnCandleEvent != nil {
		e.OnCandleEvent(evt)
	}

	// A new candle means everything between the previous last candle and the
	// freshly opened one has completed: the previous candle itself plus any
	// synthesized gap fillers.
	if evt == candles.EventNewCandle && hadPrev {
		last, _ := series.Last()
		n := int((last.Timestamp-prev.Timestamp)/series.Interval()) + 1
		window := series.LastN(n)
		for _, c := range window[:len(window)-1] {
			e.emitCompleted(key, c)
		}
	}

	for _, s := range e.registry.For(key.symbol, key.tf) {
		s := s
		e.safeDispatch(s.Name(), func() { s.OnCandleEvent(ctx, evt) })
	}
}

func (e *Engine) buildersFor(symbol string) map[builderKey]*candles.Builder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[builderKey]*candles.Builder)
	for key, b := range e.builders {
		if key.symbol == symbol {
			out[key] = b
		}
	}
	return out
}

// safeDispatch isolates strategy faults: one panicking strategy must not
// take down the ingest loop or its siblings.
func (e *Engine) safeDispatch(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("strategy panicked", "strategy", name, "panic", r)
		}
	}()
	fn()
}

func (e *Engine) emitCompleted(key builderKey, c model.Candle) {
	select {
	case e.completed <- completedCandle{symbol: key.symbol, tf: key.tf, candle: c}:
	default:
		slog.Warn("publish buffer full, candle dropped", "symbol", key.symbol, "tf", string(key.tf))
		if e.OnDroppedEvent != nil {
			e.OnDroppedEvent()
		}
	}
}

func (e *Engine) publishLoop(ctx context.Context) {
	for cc := range e.completed {
		e.publisher.PublishCandle(ctx, cc.symbol, cc.tf, cc.candle)
	}
}
