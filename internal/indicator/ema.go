package indicator

import (
	"strconv"

	"kcu-companion/internal/model"
)

// EMA calculates an Exponential Moving Average of closes.
// O(1) per update — no window storage needed.
//
// The first EMA value is the simple average of the first `period` valid
// closes. A non-finite close yields an absent output for that bar but leaves
// the running EMA untouched, so the next valid close continues from the last
// numeric value.
type EMA struct {
	period     int
	multiplier float64
	current    float64 // last numeric EMA
	count      int     // valid closes consumed
	sum        float64 // seed accumulator

	out   float64
	outOK bool
}

// NewEMA creates a new EMA indicator with the given period (minimum 1).
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(c model.Candle) {
	price := c.Close
	if !model.IsFinite(price) {
		e.outOK = false
		return
	}
	e.count++

	if e.count <= e.period {
		// Accumulate for the SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
			e.out, e.outOK = e.current, true
			return
		}
		e.outOK = false
		return
	}

	e.current = (price-e.current)*e.multiplier + e.current
	e.out, e.outOK = e.current, true
}

func (e *EMA) Value() (float64, bool) { return e.out, e.outOK }
func (e *EMA) Ready() bool            { return e.count >= e.period }

// Peek evaluates the next EMA value for c without mutating state. It uses the
// exact expressions of Update so a later commit of the same bar is bit-identical.
func (e *EMA) Peek(c model.Candle) (float64, bool) {
	price := c.Close
	if !model.IsFinite(price) {
		return 0, false
	}
	n := e.count + 1
	if n < e.period {
		return 0, false
	}
	if n == e.period {
		return (e.sum + price) / float64(e.period), true
	}
	return (price-e.current)*e.multiplier + e.current, true
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
	e.out, e.outOK = 0, false
}
