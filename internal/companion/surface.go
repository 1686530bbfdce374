package companion

import (
	"kcu-companion/internal/chart"
	"kcu-companion/internal/levels"
	"kcu-companion/internal/metrics"
)

// meteredSurface counts level slot writes on their way to the surface.
type meteredSurface struct {
	chart.Surface
	m *metrics.Metrics
}

func (s *meteredSurface) SetLine(slot levels.Slot) error {
	s.m.LevelSlotWrites.WithLabelValues(string(slot.Pool)).Inc()
	return s.Surface.SetLine(slot)
}

func (s *meteredSurface) ClearLine(slot levels.Slot) error {
	s.m.LevelSlotWrites.WithLabelValues(string(slot.Pool)).Inc()
	return s.Surface.ClearLine(slot)
}
