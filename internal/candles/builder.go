package candles

import (
	"errors"
	"log/slog"
	"time"

	"candlebot/internal/model"
)

// Event classifies what a trade tick did to its series.
type Event int

const (
	// EventNone means the tick was not applied (empty series).
	EventNone Event = iota
	// EventSameCandle means the tick updated the forming candle in place.
	EventSameCandle
	// EventNewCandle means the tick opened a new candle, possibly after
	// synthesizing flat candles for skipped boundaries.
	EventNewCandle
)

func (e Event) String() string {
	switch e {
	case EventSameCandle:
		return "same_candle"
	case EventNewCandle:
		return "new_candle"
	default:
		return "none"
	}
}

// ErrEmptySeries is returned when a tick arrives before the series is seeded.
var ErrEmptySeries = errors.New("candles: series has no seed candles")

// DefaultStaleAfter is how far tick timestamps may lag wall-clock time before
// a warning is emitted. The warning is non-fatal; it means the consumer is
// falling behind the feed.
const DefaultStaleAfter = 2 * time.Second

// Builder folds timestamped trade ticks into one Series.
//
// Three-way classification per tick, given the forming candle at T with
// interval I:
//   - tick before T+I:   merge into the forming candle  → same_candle
//   - tick at/after T+2I: synthesize flat candles for every skipped boundary
//     (open=high=low=close=last close, volume 0), then open a real candle
//     at the next boundary                              → new_candle
//   - otherwise:          open one new candle at T+I    → new_candle
//
// Single goroutine use only (the tick-ingestion path).
type Builder struct {
	series *Series

	// StaleAfter is the tick-timestamp lag that triggers a staleness warning.
	StaleAfter time.Duration

	// now is swappable for tests.
	now func() time.Time

	// Metrics hooks (optional, set externally).
	OnGapCandles func(n int)
	OnStaleTick  func()
}

// NewBuilder creates a Builder over the given series.
func NewBuilder(series *Series) *Builder {
	return &Builder{
		series:     series,
		StaleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

// Series returns the series the builder maintains.
func (b *Builder) Series() *Series { return b.series }

// Ingest applies one trade tick. eventTime is the venue timestamp in Unix
// seconds. The caller must seed the series with history before the first
// tick; an unseeded series is a soft failure (logged, EventNone).
func (b *Builder) Ingest(price, size float64, eventTime int64) (Event, error) {
	if lag := b.now().Unix() - eventTime; lag >= int64(b.StaleAfter/time.Second) && b.StaleAfter > 0 {
		slog.Warn("tick timestamp lagging wall clock",
			"symbol", b.series.asset.Symbol,
			"timeframe", string(b.series.timeframe),
			"lag_seconds", lag)
		if b.OnStaleTick != nil {
			b.OnStaleTick()
		}
	}

	last, ok := b.series.Last()
	if !ok {
		slog.Error("tick before series seeded, dropping",
			"symbol", b.series.asset.Symbol,
			"timeframe", string(b.series.timeframe))
		return EventNone, ErrEmptySeries
	}

	iv := b.series.interval

	switch {
	case eventTime < last.Timestamp+iv:
		// Tick belongs to the forming candle.
		b.series.MergeTick(price, size)
		return EventSameCandle, nil

	case eventTime >= last.Timestamp+2*iv:
		// One or more boundaries were skipped. Fill them with flat candles
		// so consecutive timestamps always differ by exactly one interval.
		missing := int((eventTime-last.Timestamp)/iv) - 1
		slog.Info("synthesizing missing candles",
			"symbol", b.series.asset.Symbol,
			"timeframe", string(b.series.timeframe),
			"missing", missing)

		for i := 0; i < missing; i++ {
			flat := model.Candle{
				Timestamp: last.Timestamp + iv,
				Open:      last.Close,
				High:      last.Close,
				Low:       last.Close,
				Close:     last.Close,
				Volume:    0,
			}
			if err := b.series.Append(flat); err != nil {
				return EventNone, err
			}
			last = flat
		}
		if b.OnGapCandles != nil {
			b.OnGapCandles(missing)
		}

		fresh := seedCandle(last.Timestamp+iv, price, size)
		if err := b.series.Append(fresh); err != nil {
			return EventNone, err
		}
		return EventNewCandle, nil

	default:
		// Tick falls in exactly the next boundary window.
		fresh := seedCandle(last.Timestamp+iv, price, size)
		if err := b.series.Append(fresh); err != nil {
			return EventNone, err
		}
		slog.Debug("new candle",
			"symbol", b.series.asset.Symbol,
			"timeframe", string(b.series.timeframe),
			"timestamp", fresh.Timestamp)
		return EventNewCandle, nil
	}
}

func seedCandle(ts int64, price, size float64) model.Candle {
	return model.Candle{
		Timestamp: ts,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    size,
	}
}
