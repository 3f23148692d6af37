package strategy

import (
	"context"
	"log/slog"

	"candlebot/internal/candles"
	"candlebot/internal/model"
)

// Breakout trades range breaks: a close beyond the previous candle's
// high/low on sufficient volume. It re-evaluates on every tick, so an
// intra-candle break is acted on as soon as it prints.
type Breakout struct {
	*base
}

// OnCandleEvent compares the forming candle against the previous one after
// each applied tick.
func (s *Breakout) OnCandleEvent(ctx context.Context, ev candles.Event) {
	if ev == candles.EventNone {
		return
	}

	window := s.series.LastN(2)
	if len(window) < 2 {
		return
	}
	prev, cur := window[0], window[1]

	if cur.Volume <= s.cfg.MinVolume {
		return
	}

	var side model.PositionSide
	switch {
	case cur.Close > prev.High:
		side = model.SideLong
	case cur.Close < prev.Low:
		side = model.SideShort
	default:
		return
	}

	slog.Info("breakout signal",
		"strategy", s.name, "side", string(side),
		"close", cur.Close, "prev_high", prev.High, "prev_low", prev.Low, "volume", cur.Volume)
	s.open(ctx, side)
}
