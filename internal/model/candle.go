package model

import "encoding/json"

// Candle represents one OHLCV bar for a single asset and timeframe.
// Timestamp is the bucket start in Unix seconds, aligned to the timeframe
// boundary. A candle is mutable only while it is the last element of its
// series; once superseded it is immutable.
type Candle struct {
	Timestamp int64   `json:"timestamp"` // bucket start (Unix seconds, TF-aligned)
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Timeframe identifies a candle interval, using the venue's granularity names.
type Timeframe string

const (
	OneMinute     Timeframe = "ONE_MINUTE"
	FiveMinute    Timeframe = "FIVE_MINUTE"
	FifteenMinute Timeframe = "FIFTEEN_MINUTE"
	ThirtyMinute  Timeframe = "THIRTY_MINUTE"
	OneHour       Timeframe = "ONE_HOUR"
	TwoHour       Timeframe = "TWO_HOUR"
	SixHour       Timeframe = "SIX_HOUR"
	OneDay        Timeframe = "ONE_DAY"
)

var tfSeconds = map[Timeframe]int64{
	OneMinute:     60,
	FiveMinute:    300,
	FifteenMinute: 900,
	ThirtyMinute:  1800,
	OneHour:       3600,
	TwoHour:       7200,
	SixHour:       21600,
	OneDay:        86400,
}

// Seconds returns the timeframe duration in seconds, or 0 if unknown.
func (tf Timeframe) Seconds() int64 {
	return tfSeconds[tf]
}

// Valid reports whether tf is a venue-supported granularity.
func (tf Timeframe) Valid() bool {
	_, ok := tfSeconds[tf]
	return ok
}
