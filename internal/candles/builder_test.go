package candles

import (
	"testing"
	"time"

	"candlebot/internal/model"
)

var testAsset = model.Asset{
	Symbol:         "BTC-USD",
	BaseCurrency:   "BTC",
	QuoteCurrency:  "USD",
	QuoteIncrement: 2,
	BaseIncrement:  8,
}

func seededBuilder(t *testing.T, tf model.Timeframe, history []model.Candle) *Builder {
	t.Helper()
	s, err := NewSeries(testAsset, tf)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	if err := s.Seed(history); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	b := NewBuilder(s)
	// Pin "now" to the seed time so staleness warnings don't fire in tests.
	base := history[len(history)-1].Timestamp
	b.now = func() time.Time { return time.Unix(base, 0) }
	return b
}

func flatCandle(ts int64, price float64) model.Candle {
	return model.Candle{Timestamp: ts, Open: price, High: price, Low: price, Close: price, Volume: 0}
}

func TestBuilder_SameCandle(t *testing.T) {
	const t0 = int64(1700000040) // minute-aligned
	b := seededBuilder(t, model.OneMinute, []model.Candle{
		{Timestamp: t0, Open: 100, High: 101, Low: 99, Close: 100, Volume: 5},
	})

	ev, err := b.Ingest(102, 3, t0+10)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ev != EventSameCandle {
		t.Fatalf("expected same_candle, got %v", ev)
	}
	if b.Series().Len() != 1 {
		t.Fatalf("expected 1 candle, got %d", b.Series().Len())
	}

	last, _ := b.Series().Last()
	if last.High != 102 {
		t.Errorf("expected high=102, got %v", last.High)
	}
	if last.Close != 102 {
		t.Errorf("expected close=102, got %v", last.Close)
	}
	if last.Volume != 8 {
		t.Errorf("expected volume=8, got %v", last.Volume)
	}
	if last.Low != 99 {
		t.Errorf("expected low unchanged at 99, got %v", last.Low)
	}

	// A lower price updates low and close.
	if _, err := b.Ingest(98.5, 1, t0+20); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	last, _ = b.Series().Last()
	if last.Low != 98.5 {
		t.Errorf("expected low=98.5, got %v", last.Low)
	}
	if last.Close != 98.5 {
		t.Errorf("expected close=98.5, got %v", last.Close)
	}
}

func TestBuilder_NewCandle(t *testing.T) {
	const t0 = int64(1700000040)
	b := seededBuilder(t, model.OneMinute, []model.Candle{
		{Timestamp: t0, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 5},
	})

	ev, err := b.Ingest(101, 2, t0+60)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ev != EventNewCandle {
		t.Fatalf("expected new_candle, got %v", ev)
	}
	if b.Series().Len() != 2 {
		t.Fatalf("expected 2 candles, got %d", b.Series().Len())
	}

	last, _ := b.Series().Last()
	if last.Timestamp != t0+60 {
		t.Errorf("expected ts=%d, got %d", t0+60, last.Timestamp)
	}
	if last.Open != 101 || last.High != 101 || last.Low != 101 || last.Close != 101 {
		t.Errorf("expected OHLC all seeded to 101, got %+v", last)
	}
	if last.Volume != 2 {
		t.Errorf("expected volume=2, got %v", last.Volume)
	}
}

func TestBuilder_GapSynthesis(t *testing.T) {
	const t0 = int64(1700000040)
	b := seededBuilder(t, model.OneMinute, []model.Candle{
		{Timestamp: t0, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 5},
	})

	synthesized := 0
	b.OnGapCandles = func(n int) { synthesized += n }

	// Interval 60, tick at t0+185: boundaries t0+60 and t0+120 were skipped.
	ev, err := b.Ingest(103, 4, t0+185)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ev != EventNewCandle {
		t.Fatalf("expected new_candle, got %v", ev)
	}
	if synthesized != 2 {
		t.Errorf("expected 2 synthesized candles, got %d", synthesized)
	}

	all := b.Series().Snapshot()
	if len(all) != 4 {
		t.Fatalf("expected 4 candles, got %d", len(all))
	}

	for i, want := range []model.Candle{flatCandle(t0+60, 100.5), flatCandle(t0+120, 100.5)} {
		got := all[i+1]
		if got != want {
			t.Errorf("synthesized candle %d: got %+v, want %+v", i, got, want)
		}
	}

	real := all[3]
	if real.Timestamp != t0+180 {
		t.Errorf("expected real candle at %d, got %d", t0+180, real.Timestamp)
	}
	if real.Open != 103 || real.Close != 103 || real.Volume != 4 {
		t.Errorf("real candle not seeded from tick: %+v", real)
	}
}

func TestBuilder_TimestampInvariant(t *testing.T) {
	const t0 = int64(1700000100)
	b := seededBuilder(t, model.OneMinute, []model.Candle{
		{Timestamp: t0, Open: 10, High: 10, Low: 10, Close: 10, Volume: 1},
	})

	// A mix of same-candle ticks, boundary ticks, and a multi-interval gap.
	ticks := []struct {
		price float64
		ts    int64
	}{
		{11, t0 + 5}, {12, t0 + 59}, {13, t0 + 60}, {14, t0 + 119},
		{15, t0 + 425}, {16, t0 + 430}, {17, t0 + 480},
	}
	for _, tk := range ticks {
		if _, err := b.Ingest(tk.price, 1, tk.ts); err != nil {
			t.Fatalf("Ingest(%v): %v", tk, err)
		}
	}

	all := b.Series().Snapshot()
	for i := 1; i < len(all); i++ {
		if diff := all[i].Timestamp - all[i-1].Timestamp; diff != 60 {
			t.Errorf("candles %d→%d spaced %ds apart, want 60", i-1, i, diff)
		}
	}
}

func TestBuilder_Idempotence(t *testing.T) {
	const t0 = int64(1700000040)
	ticks := []struct {
		price, size float64
		ts          int64
	}{
		{100.5, 1, t0 + 10}, {101, 2, t0 + 61}, {99, 1, t0 + 90},
		{102, 3, t0 + 250}, {103, 1, t0 + 300},
	}

	run := func() []model.Candle {
		b := seededBuilder(t, model.OneMinute, []model.Candle{
			{Timestamp: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 0},
		})
		for _, tk := range ticks {
			if _, err := b.Ingest(tk.price, tk.size, tk.ts); err != nil {
				t.Fatalf("Ingest: %v", err)
			}
		}
		return b.Series().Snapshot()
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("series lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("candle %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestBuilder_UnseededSeries(t *testing.T) {
	s, err := NewSeries(testAsset, model.OneMinute)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	b := NewBuilder(s)

	ev, err := b.Ingest(100, 1, time.Now().Unix())
	if err != ErrEmptySeries {
		t.Errorf("expected ErrEmptySeries, got %v", err)
	}
	if ev != EventNone {
		t.Errorf("expected EventNone, got %v", ev)
	}
	if s.Len() != 0 {
		t.Errorf("expected series to stay empty, got %d candles", s.Len())
	}
}

func TestBuilder_StaleTickWarning(t *testing.T) {
	const t0 = int64(1700000040)
	b := seededBuilder(t, model.OneMinute, []model.Candle{
		{Timestamp: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 0},
	})

	stale := 0
	b.OnStaleTick = func() { stale++ }
	b.now = func() time.Time { return time.Unix(t0+30, 0) }

	// Tick 25s behind wall clock: stale under the default 2s threshold,
	// but still applied to the series.
	ev, err := b.Ingest(101, 1, t0+5)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ev != EventSameCandle {
		t.Errorf("stale tick should still classify, got %v", ev)
	}
	if stale != 1 {
		t.Errorf("expected 1 stale warning, got %d", stale)
	}
}

func TestSeries_SeedRejectsGaps(t *testing.T) {
	s, err := NewSeries(testAsset, model.OneMinute)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	err = s.Seed([]model.Candle{
		{Timestamp: 1700000040, Close: 1},
		{Timestamp: 1700000160, Close: 2}, // skips 1700000100
	})
	if err == nil {
		t.Fatal("expected seed error for gapped history")
	}
}
