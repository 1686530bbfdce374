package indicator

import (
	"kcu-companion/internal/markethours"
	"kcu-companion/internal/model"
)

// SessionFunc maps an epoch-second timestamp to its session key.
type SessionFunc func(timeSeconds int64) string

// vwapState is the session accumulator. It is a plain value so Peek can run
// the same transition on a copy.
type vwapState struct {
	session string
	cumPV   float64
	cumVol  float64
	last    float64 // last valid VWAP in this session
	lastOK  bool
}

// next folds c into s and returns the new state plus the output for c.
//
// Bars with zero, missing or non-finite volume are excluded from the sums:
// treating them as volume=1 would weight thin pre/post-market bars like
// regular-hours bars. Such a bar repeats the last valid VWAP of the session
// (absent if the session has none yet). A bar with an invalid high/low/close
// is absent regardless of volume.
func (s vwapState) next(c model.Candle, sessionOf SessionFunc) (vwapState, float64, bool) {
	if key := sessionOf(c.Time); key != s.session {
		s = vwapState{session: key}
	}

	if !validPrice(c.High) || !validPrice(c.Low) || !validPrice(c.Close) {
		return s, 0, false
	}
	if !c.HasVolume() {
		return s, s.last, s.lastOK
	}

	tp := c.TypicalPrice()
	if s.cumVol == 0 {
		// First contributing bar of the session: VWAP is exactly its typical price.
		s.cumPV = tp * c.Volume
		s.cumVol = c.Volume
		s.last, s.lastOK = tp, true
		return s, tp, true
	}
	s.cumPV += tp * c.Volume
	s.cumVol += c.Volume
	s.last, s.lastOK = s.cumPV/s.cumVol, true
	return s, s.last, true
}

// VWAP calculates the session Volume-Weighted Average Price of the typical
// price (H+L+C)/3, resetting at every session boundary.
type VWAP struct {
	sessionOf SessionFunc
	st        vwapState
	count     int

	out   float64
	outOK bool
}

// NewVWAP creates a session VWAP. A nil sessionOf uses the New York calendar
// date (markethours.SessionKeyOf).
func NewVWAP(sessionOf SessionFunc) *VWAP {
	if sessionOf == nil {
		sessionOf = markethours.SessionKeyOf
	}
	return &VWAP{sessionOf: sessionOf}
}

func (v *VWAP) Name() string { return "VWAP" }

func (v *VWAP) Update(c model.Candle) {
	v.st, v.out, v.outOK = v.st.next(c, v.sessionOf)
	v.count++
}

func (v *VWAP) Value() (float64, bool) { return v.out, v.outOK }

// Ready reports whether the current session has a valid VWAP.
func (v *VWAP) Ready() bool { return v.st.lastOK }

func (v *VWAP) Peek(c model.Candle) (float64, bool) {
	_, out, ok := v.st.next(c, v.sessionOf)
	return out, ok
}

// Session returns the session key of the last committed bar.
func (v *VWAP) Session() string { return v.st.session }

func (v *VWAP) Reset() {
	v.st = vwapState{}
	v.count = 0
	v.out, v.outOK = 0, false
}
