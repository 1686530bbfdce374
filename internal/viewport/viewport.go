// Package viewport decides what part of the bar history a chart shows as
// data arrives. It is pure policy: no indicator math, no rendering.
package viewport

// DefaultVisibleBars is how many recent bars a bulk load narrows to.
const DefaultVisibleBars = 150

// Range is a visible logical range in bar indices, inclusive.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Action is one instruction for the render surface.
type Action struct {
	Fit   bool   `json:"fit,omitempty"`   // fit all content first
	Range *Range `json:"range,omitempty"` // then show this range
}

// Empty reports whether the action asks for nothing.
func (a Action) Empty() bool { return !a.Fit && a.Range == nil }

// Controller tracks bar count and follow mode for one chart.
type Controller struct {
	visible int
	bars    int
	follow  bool // keep the newest bar in view on append
	current *Range
}

// New creates a controller that shows the last visible bars after a bulk
// load. visible <= 0 selects DefaultVisibleBars.
func New(visible int) *Controller {
	if visible <= 0 {
		visible = DefaultVisibleBars
	}
	return &Controller{visible: visible}
}

// Bars returns the bar count the controller last saw.
func (c *Controller) Bars() int { return c.bars }

// Following reports whether appends scroll the view.
func (c *Controller) Following() bool { return c.follow }

// Current returns the last range requested, if any.
func (c *Controller) Current() (Range, bool) {
	if c.current == nil {
		return Range{}, false
	}
	return *c.current, true
}

// OnBulkLoad fits all n bars, then narrows to the most recent ones.
// With no data it only fits.
func (c *Controller) OnBulkLoad(n int) Action {
	c.bars = max(n, 0)
	c.follow = false
	a := Action{Fit: true}
	if r, ok := c.last(c.visible); ok {
		a.Range = c.set(r)
	}
	return a
}

// OnAppend records a new bar count. The view only moves if the caller asked
// to follow realtime.
func (c *Controller) OnAppend(n int) Action {
	c.bars = max(n, 0)
	if !c.follow {
		return Action{}
	}
	width := c.visible
	if c.current != nil {
		width = c.current.To - c.current.From + 1
	}
	r, ok := c.last(width)
	if !ok {
		return Action{}
	}
	return Action{Range: c.set(r)}
}

// ScrollToRealtime jumps to the newest bars and keeps following appends.
func (c *Controller) ScrollToRealtime() Action {
	c.follow = true
	r, ok := c.last(c.visible)
	if !ok {
		return Action{}
	}
	return Action{Range: c.set(r)}
}

// ShowLast shows the most recent k bars, clamped to what exists.
func (c *Controller) ShowLast(k int) Action {
	r, ok := c.last(k)
	if !ok {
		return Action{}
	}
	return Action{Range: c.set(r)}
}

// SetRange shows bars from..to, clamped to the available data. A user pan
// stops follow mode.
func (c *Controller) SetRange(from, to int) Action {
	c.follow = false
	if c.bars == 0 {
		return Action{}
	}
	if from > to {
		from, to = to, from
	}
	from = clamp(from, 0, c.bars-1)
	to = clamp(to, 0, c.bars-1)
	return Action{Range: c.set(Range{From: from, To: to})}
}

// Reset forgets all state.
func (c *Controller) Reset() {
	c.bars = 0
	c.follow = false
	c.current = nil
}

func (c *Controller) last(k int) (Range, bool) {
	if c.bars == 0 || k <= 0 {
		return Range{}, false
	}
	k = min(k, c.bars)
	return Range{From: c.bars - k, To: c.bars - 1}, true
}

func (c *Controller) set(r Range) *Range {
	c.current = &r
	out := r
	return &out
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
