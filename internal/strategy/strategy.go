// Package strategy implements the signal generators that watch one asset on
// one timeframe and hand open/close decisions to the trade lifecycle.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"candlebot/internal/candles"
	"candlebot/internal/lifecycle"
	"candlebot/internal/model"
)

// Strategy type identifiers, as stored in workspace and config files.
const (
	TypeTechnical = "technical"
	TypeBreakout  = "breakout"
)

// Config is the user-supplied definition of one strategy instance.
type Config struct {
	Type      string          `yaml:"type" json:"type" validate:"required,oneof=technical breakout"`
	Symbol    string          `yaml:"symbol" json:"symbol" validate:"required"`
	Timeframe model.Timeframe `yaml:"timeframe" json:"timeframe" validate:"required"`

	BalancePct    float64 `yaml:"balance_pct" json:"balance_pct" validate:"gt=0,lte=100"`
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct" validate:"gt=0"`
	StopLossPct   float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" validate:"gt=0"`

	// Technical parameters.
	RSILength int `yaml:"rsi_length" json:"rsi_length,omitempty"`
	EMAFast   int `yaml:"ema_fast" json:"ema_fast,omitempty"`
	EMASlow   int `yaml:"ema_slow" json:"ema_slow,omitempty"`
	EMASignal int `yaml:"ema_signal" json:"ema_signal,omitempty"`

	// Breakout parameter: candles below this volume cannot signal.
	MinVolume float64 `yaml:"min_volume" json:"min_volume,omitempty"`
}

var validate = validator.New()

// Validate checks the static fields plus the per-type parameter set.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("strategy config: %w", err)
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("strategy config: unknown timeframe %q", c.Timeframe)
	}
	if c.Type == TypeTechnical {
		if c.RSILength <= 0 || c.EMAFast <= 0 || c.EMASlow <= 0 || c.EMASignal <= 0 {
			return fmt.Errorf("strategy config: technical requires rsi_length, ema_fast, ema_slow, ema_signal")
		}
		if c.EMAFast >= c.EMASlow {
			return fmt.Errorf("strategy config: ema_fast %d must be below ema_slow %d", c.EMAFast, c.EMASlow)
		}
	}
	return nil
}

// Strategy is one signal generator bound to an asset and timeframe. The
// engine calls OnCandleEvent after each ingested trade tick and MarkPrice on
// every quote for the strategy's symbol; both are invoked from the engine's
// single dispatch goroutine.
type Strategy interface {
	Name() string
	Asset() model.Asset
	Timeframe() model.Timeframe

	// OnCandleEvent reacts to the candle-stream event produced by the tick
	// that was just ingested into the strategy's series.
	OnCandleEvent(ctx context.Context, ev candles.Event)

	// MarkPrice forwards the latest quote to the strategy's open positions.
	MarkPrice(ctx context.Context, q model.Quote)

	// Trades returns snapshots of every trade the strategy has opened.
	Trades() []model.Trade
}

// New builds a strategy from its config, bound to the candle series it reads
// and the lifecycle manager it trades through.
func New(cfg Config, series *candles.Series, mgr *lifecycle.Manager) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := newBase(cfg, series, mgr)
	switch cfg.Type {
	case TypeTechnical:
		return &Technical{base: b}, nil
	case TypeBreakout:
		return &Breakout{base: b}, nil
	default:
		return nil, fmt.Errorf("strategy: unknown type %q", cfg.Type)
	}
}

// base carries the state shared by all strategy types: the candle series it
// watches, its positions, and the single-position re-entry latch.
type base struct {
	cfg    Config
	name   string
	series *candles.Series
	mgr    *lifecycle.Manager

	mu        sync.Mutex
	ongoing   bool
	positions []*lifecycle.Position
}

func newBase(cfg Config, series *candles.Series, mgr *lifecycle.Manager) *base {
	return &base{
		cfg:    cfg,
		name:   fmt.Sprintf("%s:%s:%s", cfg.Type, cfg.Symbol, cfg.Timeframe),
		series: series,
		mgr:    mgr,
	}
}

func (b *base) Name() string               { return b.name }
func (b *base) Asset() model.Asset         { return b.series.Asset() }
func (b *base) Timeframe() model.Timeframe { return b.series.Timeframe() }

// open acts on a signal unless a position from this strategy is already
// live. The latch flips on before the venue round-trip and rolls back if the
// open soft-fails; the position's close callback releases it.
func (b *base) open(ctx context.Context, side model.PositionSide) {
	b.mu.Lock()
	if b.ongoing {
		b.mu.Unlock()
		return
	}
	b.ongoing = true
	b.mu.Unlock()

	p := b.mgr.OpenPosition(ctx, lifecycle.OpenRequest{
		Asset:         b.series.Asset(),
		Timeframe:     b.series.Timeframe(),
		StrategyName:  b.name,
		Side:          side,
		BalancePct:    b.cfg.BalancePct,
		TakeProfitPct: b.cfg.TakeProfitPct,
		StopLossPct:   b.cfg.StopLossPct,
		OnClosed: func() {
			b.mu.Lock()
			b.ongoing = false
			b.mu.Unlock()
		},
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	if p == nil {
		b.ongoing = false
		return
	}
	b.positions = append(b.positions, p)
}

// MarkPrice fans the quote out to every position this strategy has opened.
func (b *base) MarkPrice(ctx context.Context, q model.Quote) {
	b.mu.Lock()
	positions := make([]*lifecycle.Position, len(b.positions))
	copy(positions, b.positions)
	b.mu.Unlock()

	for _, p := range positions {
		b.mgr.MarkPrice(ctx, p, q)
	}
}

// Trades returns a snapshot of every trade, newest last.
func (b *base) Trades() []model.Trade {
	b.mu.Lock()
	positions := make([]*lifecycle.Position, len(b.positions))
	copy(positions, b.positions)
	b.mu.Unlock()

	trades := make([]model.Trade, 0, len(positions))
	for _, p := range positions {
		trades = append(trades, p.Snapshot())
	}
	return trades
}
