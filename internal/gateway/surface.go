package gateway

import (
	"kcu-companion/internal/levels"
	"kcu-companion/internal/model"
)

// Surface renders one chart to the browser clients subscribed to its
// symbol. It implements chart.Surface; each call becomes one envelope.
type Surface struct {
	hub    *Hub
	symbol string
}

// NewSurface creates the surface for symbol.
func NewSurface(hub *Hub, symbol string) *Surface {
	return &Surface{hub: hub, symbol: symbol}
}

type candlesMsg struct {
	Candles []model.Candle `json:"candles"`
}

type seriesMsg struct {
	Name   string        `json:"name"`
	Points []model.Point `json:"points,omitempty"`
	Point  *model.Point  `json:"point,omitempty"`
}

// LineMsg is the wire form of a drawn level line.
type LineMsg struct {
	Slot      string          `json:"slot"`
	Pool      levels.Pool     `json:"pool"`
	Price     float64         `json:"price"`
	Label     string          `json:"label"`
	Kind      model.LevelKind `json:"kind"`
	Color     string          `json:"color"`
	Width     int             `json:"width"`
	LineStyle string          `json:"lineStyle"`
	From      int64           `json:"from"`
	To        int64           `json:"to"`
	Near      bool            `json:"near"`
}

// NewLineMsg flattens an active slot into its wire form.
func NewLineMsg(slot levels.Slot) LineMsg {
	l := slot.Line
	return LineMsg{
		Slot:      slot.ID(),
		Pool:      slot.Pool,
		Price:     l.Level.Price,
		Label:     l.Level.Label,
		Kind:      l.Level.Kind,
		Color:     l.Style.Color,
		Width:     l.Style.Width,
		LineStyle: l.Style.LineStyle,
		From:      l.From,
		To:        l.To,
		Near:      l.Near,
	}
}

type slotMsg struct {
	Slot string `json:"slot"`
	Near *bool  `json:"near,omitempty"`
}

type rangeMsg struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s *Surface) SetCandles(candles []model.Candle) error {
	return s.hub.Broadcast(s.symbol, "candles", candlesMsg{Candles: candles})
}

func (s *Surface) UpdateCandle(c model.Candle) error {
	return s.hub.Broadcast(s.symbol, "candle", c)
}

func (s *Surface) SetSeriesData(name string, points []model.Point) error {
	return s.hub.Broadcast(s.symbol, "series", seriesMsg{Name: name, Points: points})
}

func (s *Surface) UpdateLastPoint(name string, p model.Point) error {
	return s.hub.Broadcast(s.symbol, "point", seriesMsg{Name: name, Point: &p})
}

func (s *Surface) SetLine(slot levels.Slot) error {
	return s.hub.Broadcast(s.symbol, "line", NewLineMsg(slot))
}

func (s *Surface) ClearLine(slot levels.Slot) error {
	return s.hub.Broadcast(s.symbol, "line_clear", slotMsg{Slot: slot.ID()})
}

func (s *Surface) SetLevelAlert(slot levels.Slot, near bool) error {
	return s.hub.Broadcast(s.symbol, "alert", slotMsg{Slot: slot.ID(), Near: &near})
}

func (s *Surface) SetVisibleRange(from, to int) error {
	return s.hub.Broadcast(s.symbol, "range", rangeMsg{From: from, To: to})
}

func (s *Surface) FitContent() error {
	return s.hub.Broadcast(s.symbol, "fit", struct{}{})
}

func (s *Surface) Reset() error {
	return s.hub.Broadcast(s.symbol, "reset", struct{}{})
}
