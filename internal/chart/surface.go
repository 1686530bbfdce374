package chart

import (
	"kcu-companion/internal/levels"
	"kcu-companion/internal/model"
)

// Surface is the render collaborator a chart drives. Implementations may
// fail or panic; the chart absorbs both.
//
// Point and candle updates follow "update" semantics: a value whose time
// equals the last one replaces it, a later time appends.
type Surface interface {
	SetCandles(candles []model.Candle) error
	UpdateCandle(c model.Candle) error

	SetSeriesData(name string, points []model.Point) error
	UpdateLastPoint(name string, p model.Point) error

	SetLine(slot levels.Slot) error
	ClearLine(slot levels.Slot) error
	SetLevelAlert(slot levels.Slot, near bool) error

	SetVisibleRange(from, to int) error
	FitContent() error

	// Reset releases everything drawn for the chart.
	Reset() error
}

// NopSurface discards every call. Used by headless charts.
type NopSurface struct{}

func (NopSurface) SetCandles([]model.Candle) error           { return nil }
func (NopSurface) UpdateCandle(model.Candle) error           { return nil }
func (NopSurface) SetSeriesData(string, []model.Point) error { return nil }
func (NopSurface) UpdateLastPoint(string, model.Point) error { return nil }
func (NopSurface) SetLine(levels.Slot) error                 { return nil }
func (NopSurface) ClearLine(levels.Slot) error               { return nil }
func (NopSurface) SetLevelAlert(levels.Slot, bool) error     { return nil }
func (NopSurface) SetVisibleRange(int, int) error            { return nil }
func (NopSurface) FitContent() error                         { return nil }
func (NopSurface) Reset() error                              { return nil }
