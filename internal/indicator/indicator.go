// Package indicator computes chart overlays (EMA, SMA, session VWAP) from
// candle data.
//
// Every indicator is a small state machine fed one finalized bar at a time
// with Update, plus a non-mutating Peek for the bar that is still forming.
// Invalid input never panics or errors: it degrades to an absent value at the
// affected position.
package indicator

import "kcu-companion/internal/model"

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Name returns the series name (e.g. "EMA_9", "VWAP").
	Name() string

	// Update commits a finalized bar and recalculates.
	Update(c model.Candle)

	// Value returns the output for the most recently committed bar.
	// ok is false when that output is absent.
	Value() (v float64, ok bool)

	// Ready returns true once warm-up has completed.
	Ready() bool

	// Peek computes what Value() would be if c were committed next,
	// WITHOUT mutating internal state. Used for the forming bar.
	Peek(c model.Candle) (v float64, ok bool)

	// Reset clears all state for reuse.
	Reset()
}

// validPrice reports whether p can enter a price-weighted computation.
func validPrice(p float64) bool {
	return model.IsFinite(p) && p > 0
}
