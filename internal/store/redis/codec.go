package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"kcu-companion/internal/model"
)

const candleChannelPrefix = "pub:candle:"

// ErrBadChannel is returned for a channel name that is not a candle channel.
var ErrBadChannel = errors.New("not a candle channel")

// ParseCandleChannel splits "pub:candle:{tf}s:{symbol}" into symbol and tf.
func ParseCandleChannel(channel string) (symbol string, tf int, err error) {
	rest, ok := strings.CutPrefix(channel, candleChannelPrefix)
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrBadChannel, channel)
	}
	tfPart, symbol, ok := strings.Cut(rest, ":")
	if !ok || symbol == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrBadChannel, channel)
	}
	tf, err = strconv.Atoi(strings.TrimSuffix(tfPart, "s"))
	if err != nil || tf <= 0 {
		return "", 0, fmt.Errorf("%w: bad timeframe in %q", ErrBadChannel, channel)
	}
	return symbol, tf, nil
}

// wireCandle is the bar as published upstream. Producers use either "time"
// or "ts"; missing prices decode as NaN so the dispatcher drops the bar.
type wireCandle struct {
	Time   int64    `json:"time"`
	TS     int64    `json:"ts"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *float64 `json:"volume"`
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// DecodeCandle decodes a pub/sub message into a FeedCandle. Symbol and
// timeframe come from the channel name.
func DecodeCandle(channel string, payload []byte) (model.FeedCandle, error) {
	symbol, tf, err := ParseCandleChannel(channel)
	if err != nil {
		return model.FeedCandle{}, err
	}
	var w wireCandle
	if err := json.Unmarshal(payload, &w); err != nil {
		return model.FeedCandle{}, fmt.Errorf("decode candle on %s: %w", channel, err)
	}
	t := w.Time
	if t == 0 {
		t = w.TS
	}
	c := model.Candle{
		Time:  model.NormalizeTime(t),
		Open:  orNaN(w.Open),
		High:  orNaN(w.High),
		Low:   orNaN(w.Low),
		Close: orNaN(w.Close),
	}
	if w.Volume != nil {
		c.Volume = *w.Volume
	}
	return model.FeedCandle{Symbol: symbol, TF: tf, Candle: c}, nil
}

// DecodeLevels decodes a level snapshot. An empty symbol in the payload
// takes the symbol the snapshot was published under.
func DecodeLevels(symbol string, payload []byte) (model.LevelSnapshot, error) {
	var snap model.LevelSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return model.LevelSnapshot{}, fmt.Errorf("decode levels for %s: %w", symbol, err)
	}
	if snap.Symbol == "" {
		snap.Symbol = symbol
	}
	return snap, nil
}
