// Package candles maintains per-(asset, timeframe) OHLCV series and rebuilds
// them incrementally from raw trade ticks. A Series is the unit of truth for
// the current price and for indicator inputs; the Builder classifies each
// tick as updating the forming candle, opening a new one, or requiring gap
// synthesis so the series never skips a timeframe boundary.
package candles

import (
	"fmt"
	"sync"

	"candlebot/internal/model"
)

// Series is an append-only ordered sequence of candles for one asset and
// timeframe. Only the last candle is mutable. Writes come from a single
// goroutine (the tick-ingestion path); the RWMutex exists so the reporting
// pass never observes a torn candle.
type Series struct {
	asset     model.Asset
	timeframe model.Timeframe
	interval  int64 // timeframe duration in seconds

	mu      sync.RWMutex
	candles []model.Candle
}

// NewSeries creates an empty series for the given asset and timeframe.
func NewSeries(asset model.Asset, tf model.Timeframe) (*Series, error) {
	iv := tf.Seconds()
	if iv <= 0 {
		return nil, fmt.Errorf("series: unknown timeframe %q", tf)
	}
	return &Series{
		asset:     asset,
		timeframe: tf,
		interval:  iv,
	}, nil
}

// Asset returns the asset this series tracks.
func (s *Series) Asset() model.Asset { return s.asset }

// Timeframe returns the series timeframe.
func (s *Series) Timeframe() model.Timeframe { return s.timeframe }

// Interval returns the timeframe duration in seconds.
func (s *Series) Interval() int64 { return s.interval }

// Seed replaces the series content with historical candles, oldest first.
// Candle timestamps must be strictly increasing by exactly one interval.
func (s *Series) Seed(history []model.Candle) error {
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp != history[i-1].Timestamp+s.interval {
			return fmt.Errorf("series %s %s: seed candle %d at ts=%d breaks %ds spacing after ts=%d",
				s.asset.Symbol, s.timeframe, i, history[i].Timestamp, s.interval, history[i-1].Timestamp)
		}
	}
	s.mu.Lock()
	s.candles = append(s.candles[:0], history...)
	s.mu.Unlock()
	return nil
}

// Append adds a candle as the new last element. The candle's timestamp must
// be exactly one interval after the current last candle.
func (s *Series) Append(c model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.candles); n > 0 {
		if want := s.candles[n-1].Timestamp + s.interval; c.Timestamp != want {
			return fmt.Errorf("series %s %s: append ts=%d, want %d", s.asset.Symbol, s.timeframe, c.Timestamp, want)
		}
	}
	s.candles = append(s.candles, c)
	return nil
}

// MergeTick folds a trade into the forming (last) candle. The multi-field
// update happens under one lock so readers never see a half-applied tick.
func (s *Series) MergeTick(price, size float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.candles)
	if n == 0 {
		return
	}
	c := &s.candles[n-1]
	c.Close = price
	c.Volume += size
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
}

// Last returns a copy of the last candle, if any.
func (s *Series) Last() (model.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return model.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Len returns the number of candles in the series.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// Closes returns a copy of every close price, oldest first.
func (s *Series) Closes() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.candles))
	for i := range s.candles {
		out[i] = s.candles[i].Close
	}
	return out
}

// LastN returns copies of the most recent n candles, oldest first.
// Returns fewer if the series is shorter than n.
func (s *Series) LastN(n int) []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.candles) {
		n = len(s.candles)
	}
	out := make([]model.Candle, n)
	copy(out, s.candles[len(s.candles)-n:])
	return out
}

// Snapshot returns a copy of the whole series, oldest first.
func (s *Series) Snapshot() []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}
