package indicator

import (
	"strconv"

	"kcu-companion/internal/model"
)

// SMA calculates a Simple Moving Average of closes over a rolling window.
// Uses a preallocated circular buffer for a zero-allocation hot path.
// Non-finite closes are skipped and yield an absent output.
type SMA struct {
	period int
	buf    []float64 // circular buffer of the last `period` valid closes
	idx    int       // next write position
	count  int       // valid closes received
	sum    float64

	out   float64
	outOK bool
}

// NewSMA creates a new SMA indicator with the given period (minimum 1).
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(c model.Candle) {
	price := c.Close
	if !model.IsFinite(price) {
		s.outOK = false
		return
	}

	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = price
	s.sum += price
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.out, s.outOK = s.sum/float64(s.period), true
		return
	}
	s.outOK = false
}

func (s *SMA) Value() (float64, bool) { return s.out, s.outOK }
func (s *SMA) Ready() bool            { return s.count >= s.period }

// Peek computes what Value() would be with c committed, without mutating state.
func (s *SMA) Peek(c model.Candle) (float64, bool) {
	price := c.Close
	if !model.IsFinite(price) || s.count+1 < s.period {
		return 0, false
	}
	if s.count < s.period {
		return (s.sum + price) / float64(s.period), true
	}
	// Replace the oldest value (at idx) with the new price
	return (s.sum - s.buf[s.idx] + price) / float64(s.period), true
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.out, s.outOK = 0, false
	for i := range s.buf {
		s.buf[i] = 0
	}
}
