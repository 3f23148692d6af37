package strategy

import (
	"context"
	"log/slog"
	"math"

	"candlebot/internal/candles"
	"candlebot/internal/model"
)

// Technical trades RSI extremes confirmed by MACD crossover direction. It
// only evaluates when a candle closes, so each bar yields at most one
// decision, taken on the last completed candle rather than the forming one.
type Technical struct {
	*base
}

// OnCandleEvent evaluates indicators when a new candle opens (meaning the
// previous one just closed). Same-candle updates are ignored.
func (t *Technical) OnCandleEvent(ctx context.Context, ev candles.Event) {
	if ev != candles.EventNewCandle {
		return
	}

	closes := t.series.Closes()
	// Index of the last completed candle; the final element is still forming.
	i := len(closes) - 2
	if i < 1 {
		return
	}

	rsi := RSI(closes, t.cfg.RSILength)
	macd, signal := MACD(closes, t.cfg.EMAFast, t.cfg.EMASlow, t.cfg.EMASignal)

	if math.IsNaN(rsi[i]) || math.IsNaN(macd[i]) || math.IsNaN(signal[i]) {
		return
	}

	var side model.PositionSide
	switch {
	case rsi[i] < 30 && macd[i] > signal[i]:
		side = model.SideLong
	case rsi[i] > 70 && macd[i] < signal[i]:
		side = model.SideShort
	default:
		return
	}

	slog.Info("technical signal",
		"strategy", t.name, "side", string(side),
		"rsi", rsi[i], "macd", macd[i], "signal_line", signal[i])
	t.open(ctx, side)
}
