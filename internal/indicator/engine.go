package indicator

import (
	"log"

	"kcu-companion/internal/model"
)

// Engine maintains every configured overlay series for one chart.
// Designed for single-goroutine usage — no locks needed.
//
// Invariant between calls: each series has exactly one point per candle,
// indicator state covers every bar except the last, and the last point is a
// Peek of the forming bar. That makes a new bar cost two point updates and a
// same-bar tick cost one.
type Engine struct {
	specs     []Spec
	inds      []Indicator
	series    []model.Series
	committed int // bars folded into indicator state
	sessionOf SessionFunc
}

// NewEngine creates an engine for the given specs. A nil sessionOf uses the
// New York calendar date for VWAP resets.
func NewEngine(specs []Spec, sessionOf SessionFunc) *Engine {
	e := &Engine{sessionOf: sessionOf}
	e.setSpecs(specs)
	return e
}

func (e *Engine) setSpecs(specs []Spec) {
	e.specs = append([]Spec(nil), specs...)
	e.inds = make([]Indicator, len(specs))
	e.series = make([]model.Series, len(specs))
	for i, s := range specs {
		e.inds[i] = s.New(e.sessionOf)
		e.series[i] = model.Series{Name: s.Name()}
	}
	e.committed = 0
}

// Specs returns the configured specs.
func (e *Engine) Specs() []Spec { return append([]Spec(nil), e.specs...) }

// Recompute rebuilds every series from scratch in O(n). Used for bulk loads.
func (e *Engine) Recompute(candles []model.Candle) {
	for i, ind := range e.inds {
		e.series[i] = replay(ind, candles)
	}
	e.committed = committedFor(len(candles))
}

// replay resets ind, commits all bars but the last and peeks the last one.
func replay(ind Indicator, candles []model.Candle) model.Series {
	ind.Reset()
	n := len(candles)
	pts := make([]model.Point, n, n+1)
	for i := 0; i < n-1; i++ {
		ind.Update(candles[i])
		pts[i] = point(candles[i].Time, ind)
	}
	if n > 0 {
		pts[n-1] = peekPoint(candles[n-1], ind)
	}
	return model.Series{Name: ind.Name(), Points: pts}
}

func committedFor(n int) int {
	if n == 0 {
		return 0
	}
	return n - 1
}

// OnAppend handles a new bar at the end of candles: the previous last bar is
// committed and the new one peeked. Falls back to Recompute if the engine is
// not aligned with candles.
func (e *Engine) OnAppend(candles []model.Candle) {
	n := len(candles)
	if n == 0 || !e.aligned(n-1) {
		e.Recompute(candles)
		return
	}
	for i, ind := range e.inds {
		pts := e.series[i].Points
		if n >= 2 {
			prev := candles[n-2]
			ind.Update(prev)
			pts[n-2] = point(prev.Time, ind)
		}
		e.series[i].Points = append(pts, peekPoint(candles[n-1], ind))
	}
	e.committed = n - 1
}

// OnReplaceLast re-evaluates the forming bar after an in-place update.
func (e *Engine) OnReplaceLast(candles []model.Candle) {
	n := len(candles)
	if n == 0 || !e.aligned(n) {
		e.Recompute(candles)
		return
	}
	last := candles[n-1]
	for i, ind := range e.inds {
		e.series[i].Points[n-1] = peekPoint(last, ind)
	}
}

// aligned reports whether series hold n points with state covering n-1 bars.
func (e *Engine) aligned(n int) bool {
	if e.committed != committedFor(n) {
		return false
	}
	for _, s := range e.series {
		if len(s.Points) != n {
			return false
		}
	}
	return true
}

// Series returns deep copies of all series.
func (e *Engine) Series() []model.Series {
	out := make([]model.Series, len(e.series))
	for i, s := range e.series {
		out[i] = s.Clone()
	}
	return out
}

// LastPoints returns the final point of every series, keyed by series name.
// Series with no points are omitted.
func (e *Engine) LastPoints() map[string]model.Point {
	out := make(map[string]model.Point, len(e.series))
	for i := range e.series {
		if p, ok := e.series[i].Last(); ok {
			out[e.series[i].Name] = p
		}
	}
	return out
}

// Reset clears every series and indicator state.
func (e *Engine) Reset() {
	for i, ind := range e.inds {
		ind.Reset()
		e.series[i].Points = nil
	}
	e.committed = 0
}

// ReloadSpecs swaps the overlay set. Series whose name is unchanged keep
// their state; new ones are computed from candles. Returns the number of
// preserved and newly created series.
func (e *Engine) ReloadSpecs(specs []Spec, candles []model.Candle) (preserved, created int) {
	oldInd := make(map[string]Indicator, len(e.inds))
	oldSeries := make(map[string]model.Series, len(e.series))
	for i, s := range e.series {
		oldInd[s.Name] = e.inds[i]
		oldSeries[s.Name] = s
	}
	aligned := e.aligned(len(candles))

	newInds := make([]Indicator, len(specs))
	newSeries := make([]model.Series, len(specs))
	for i, s := range specs {
		name := s.Name()
		if ind, ok := oldInd[name]; ok && aligned {
			newInds[i] = ind
			newSeries[i] = oldSeries[name]
			preserved++
			continue
		}
		ind := s.New(e.sessionOf)
		newInds[i] = ind
		newSeries[i] = replay(ind, candles)
		created++
	}

	e.specs = append([]Spec(nil), specs...)
	e.inds = newInds
	e.series = newSeries
	e.committed = committedFor(len(candles))

	log.Printf("[indicator] specs reloaded: %d preserved, %d new", preserved, created)
	return preserved, created
}
