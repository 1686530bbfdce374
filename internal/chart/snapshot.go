package chart

import (
	"kcu-companion/internal/dispatcher"
	"kcu-companion/internal/levels"
	"kcu-companion/internal/model"
	"kcu-companion/internal/viewport"
)

// Snapshot is a full copy of a chart's renderable state. New WebSocket
// clients and the HTTP API are served from it.
type Snapshot struct {
	Symbol  string           `json:"symbol"`
	TF      int              `json:"tf"`
	Candles []model.Candle   `json:"candles"`
	Series  []model.Series   `json:"series"`
	Levels  []levels.Slot    `json:"levels"`
	Range   *viewport.Range  `json:"range,omitempty"`
	Follow  bool             `json:"follow"`
	Stats   dispatcher.Stats `json:"stats"`
}

// Snapshot returns a deep copy of the chart state. A destroyed chart returns
// an empty snapshot.
func (c *Chart) Snapshot() Snapshot {
	s := Snapshot{Symbol: c.symbol, TF: c.tf}
	if c.destroyed {
		return s
	}
	s.Candles = c.store.Candles()
	s.Series = c.engine.Series()
	s.Levels = c.registry.Active()
	if r, ok := c.view.Current(); ok {
		s.Range = &r
	}
	s.Follow = c.view.Following()
	s.Stats = c.disp.Stats()
	return s
}

// Replay draws the snapshot onto a surface. Used to bring a newly attached
// surface up to date.
func (s Snapshot) Replay(surface Surface) error {
	if err := surface.SetCandles(s.Candles); err != nil {
		return err
	}
	for _, ser := range s.Series {
		if err := surface.SetSeriesData(ser.Name, ser.Points); err != nil {
			return err
		}
	}
	for _, slot := range s.Levels {
		if err := surface.SetLine(slot); err != nil {
			return err
		}
		if slot.Line.Near {
			if err := surface.SetLevelAlert(slot, true); err != nil {
				return err
			}
		}
	}
	if s.Range != nil {
		return surface.SetVisibleRange(s.Range.From, s.Range.To)
	}
	return nil
}
