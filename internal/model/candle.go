package model

import (
	"encoding/json"
	"math"
)

// msThreshold separates epoch-seconds from epoch-milliseconds. Anything above
// it is assumed to be milliseconds.
const msThreshold = 1e12

// Candle is one OHLCV bar for a single symbol/timeframe.
// Time is the bar start in epoch seconds. A Volume of 0 (or non-finite)
// means the feed did not report volume for the bar.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// NormalizeTime converts an epoch timestamp that may be in milliseconds to
// epoch seconds.
func NormalizeTime(t int64) int64 {
	if t > msThreshold {
		return t / 1000
	}
	return t
}

// Normalized returns a copy of c with its timestamp in epoch seconds.
func (c Candle) Normalized() Candle {
	c.Time = NormalizeTime(c.Time)
	return c
}

// PriceValid reports whether all four prices are finite numbers.
func (c Candle) PriceValid() bool {
	return IsFinite(c.Open) && IsFinite(c.High) && IsFinite(c.Low) && IsFinite(c.Close)
}

// Finite reports whether the candle can be committed to a store:
// a positive timestamp and finite prices.
func (c Candle) Finite() bool {
	return c.Time > 0 && c.PriceValid()
}

// HasVolume reports whether the bar carries a usable (positive, finite) volume.
func (c Candle) HasVolume() bool {
	return IsFinite(c.Volume) && c.Volume > 0
}

// TypicalPrice returns (high + low + close) / 3.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Merge folds a same-timestamp update into c: high is the max, low the min,
// close and volume take the latest reported values and open is unchanged.
func (c Candle) Merge(u Candle) Candle {
	if u.High > c.High {
		c.High = u.High
	}
	if u.Low < c.Low {
		c.Low = u.Low
	}
	c.Close = u.Close
	if IsFinite(u.Volume) && u.Volume > 0 {
		c.Volume = u.Volume
	}
	return c
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// IsFinite reports whether f is neither NaN nor ±Inf.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
