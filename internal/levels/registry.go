// Package levels maps externally supplied price levels onto fixed pools of
// reusable line slots.
//
// A Registry owns two pools for the life of a chart: regular levels
// (support, resistance, VWAP bands, pivots, custom) and gamma levels (call
// wall, put wall, zero gamma, max pain). Each Update truncates the input to
// the pool capacity, assigns slots and reports which slots the surface must
// redraw. Slots are cleared, never released.
package levels

import (
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"kcu-companion/internal/model"
)

// Pool names a slot pool.
type Pool string

const (
	PoolRegular Pool = "regular"
	PoolGamma   Pool = "gamma"
)

// Default pool sizes.
const (
	DefaultRegularSlots = 20
	DefaultGammaSlots   = 5
)

// NearThreshold is the relative distance at which a gamma level is "near"
// the last price.
const NearThreshold = 0.01

// anchorYears is how far each line extends before and after now.
const anchorYears = 10

// Mode selects how levels are assigned to slots.
type Mode int

const (
	// ModeDiff keeps a level in its slot while its stable key is unchanged
	// and reports only slots whose content changed.
	ModeDiff Mode = iota
	// ModeRemap assigns levels to slots by input position and rewrites
	// every slot on every update.
	ModeRemap
)

func (m Mode) String() string {
	if m == ModeRemap {
		return "remap"
	}
	return "diff"
}

// ParseMode maps "remap" to ModeRemap; anything else is ModeDiff.
func ParseMode(s string) Mode {
	if s == "remap" {
		return ModeRemap
	}
	return ModeDiff
}

// Line is the rendered content of one occupied slot.
type Line struct {
	Level model.PriceLevel `json:"level"`
	Style Style            `json:"style"`
	Key   string           `json:"key"`
	From  int64            `json:"from"` // left anchor, epoch seconds
	To    int64            `json:"to"`   // right anchor, epoch seconds
	Near  bool             `json:"near"`
}

// Slot is one pool position. Active is false for a cleared slot.
type Slot struct {
	Pool   Pool `json:"pool"`
	Index  int  `json:"index"`
	Active bool `json:"active"`
	Line   Line `json:"line"`
}

// ID returns a surface handle for the slot, e.g. "gamma:2".
func (s Slot) ID() string { return string(s.Pool) + ":" + strconv.Itoa(s.Index) }

// Result describes what an update changed.
type Result struct {
	Changed []Slot // slots to redraw or clear, in pool/index order
	Alerts  []Line // gamma levels that just became near
}

// Options configures a Registry. Zero values select defaults.
type Options struct {
	RegularSlots int
	GammaSlots   int
	Mode         Mode
	Styles       StyleTable
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Registry is the per-chart level pool. Not safe for concurrent use.
type Registry struct {
	mode   Mode
	styles StyleTable
	clock  clock.Clock
	log    *slog.Logger

	regular []*Line
	gamma   []*Line

	price    float64
	hasPrice bool
}

// New creates a Registry with pre-allocated pools.
func New(opts Options) *Registry {
	if opts.RegularSlots <= 0 {
		opts.RegularSlots = DefaultRegularSlots
	}
	if opts.GammaSlots <= 0 {
		opts.GammaSlots = DefaultGammaSlots
	}
	if opts.Styles == nil {
		opts.Styles = DefaultStyles()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		mode:    opts.Mode,
		styles:  opts.Styles,
		clock:   opts.Clock,
		log:     opts.Logger,
		regular: make([]*Line, opts.RegularSlots),
		gamma:   make([]*Line, opts.GammaSlots),
	}
}

// Mode returns the assignment mode.
func (r *Registry) Mode() Mode { return r.mode }

// Capacity returns the sizes of the regular and gamma pools.
func (r *Registry) Capacity() (regular, gamma int) { return len(r.regular), len(r.gamma) }

// Update replaces the level set. Levels with a non-finite or non-positive
// price are skipped; the rest are truncated to pool capacity in input order.
func (r *Registry) Update(levels []model.PriceLevel, gamma []model.GammaLevel) Result {
	gl := make([]model.PriceLevel, 0, len(gamma))
	for _, g := range gamma {
		gl = append(gl, g.PriceLevel())
	}

	var res Result
	now := r.clock.Now()
	r.assign(PoolRegular, r.regular, r.build(levels, len(r.regular), now), &res)
	r.assign(PoolGamma, r.gamma, r.build(gl, len(r.gamma), now), &res)
	return res
}

// build converts up to capacity valid levels into lines.
func (r *Registry) build(levels []model.PriceLevel, capacity int, now time.Time) []*Line {
	from := now.AddDate(-anchorYears, 0, 0).Unix()
	to := now.AddDate(anchorYears, 0, 0).Unix()

	out := make([]*Line, 0, capacity)
	dropped := 0
	for _, lvl := range levels {
		if !model.IsFinite(lvl.Price) || lvl.Price <= 0 {
			dropped++
			continue
		}
		if len(out) == capacity {
			dropped++
			continue
		}
		if lvl.Kind == "" {
			lvl.Kind = model.KindCustom
		}
		l := &Line{
			Level: lvl,
			Style: r.styles.Resolve(lvl),
			Key:   StableKey(lvl),
			From:  from,
			To:    to,
		}
		l.Near = r.isNear(l)
		out = append(out, l)
	}
	if dropped > 0 {
		r.log.Debug("levels dropped", "dropped", dropped, "capacity", capacity)
	}
	return out
}

func (r *Registry) assign(name Pool, slots []*Line, lines []*Line, res *Result) {
	next := make([]*Line, len(slots))

	switch r.mode {
	case ModeRemap:
		copy(next, lines)
		for i := range slots {
			r.noteAlert(slots[i], next[i], res)
			slots[i] = next[i]
			res.Changed = append(res.Changed, slotOf(name, i, next[i]))
		}
		return

	default:
		byKey := make(map[string]int, len(slots))
		for i, l := range slots {
			if l != nil {
				if _, dup := byKey[l.Key]; !dup {
					byKey[l.Key] = i
				}
			}
		}
		var pending []*Line
		for _, l := range lines {
			i, ok := byKey[l.Key]
			if !ok || next[i] != nil {
				pending = append(pending, l)
				continue
			}
			if sameContent(slots[i], l) {
				next[i] = slots[i]
			} else {
				next[i] = l
			}
		}
		free := 0
		for _, l := range pending {
			for next[free] != nil {
				free++
			}
			next[free] = l
		}
	}

	for i := range slots {
		if slots[i] == next[i] {
			continue
		}
		r.noteAlert(slots[i], next[i], res)
		slots[i] = next[i]
		res.Changed = append(res.Changed, slotOf(name, i, next[i]))
	}
}

// noteAlert records next as an alert if it is near and prev was not the
// same level already flagged near.
func (r *Registry) noteAlert(prev, next *Line, res *Result) {
	if next == nil || !next.Near {
		return
	}
	if prev != nil && prev.Near && prev.Key == next.Key {
		return
	}
	res.Alerts = append(res.Alerts, *next)
}

func sameContent(a, b *Line) bool {
	return a.Key == b.Key && a.Style == b.Style && a.Near == b.Near
}

func slotOf(name Pool, i int, l *Line) Slot {
	s := Slot{Pool: name, Index: i}
	if l != nil {
		s.Active = true
		s.Line = *l
	}
	return s
}

// UpdatePrice recomputes the near flag of every gamma level against close.
// Max pain is never flagged. Non-finite or non-positive prices are ignored.
func (r *Registry) UpdatePrice(close float64) Result {
	var res Result
	if !model.IsFinite(close) || close <= 0 {
		return res
	}
	r.price, r.hasPrice = close, true

	for _, p := range []struct {
		name  Pool
		slots []*Line
	}{{PoolRegular, r.regular}, {PoolGamma, r.gamma}} {
		for i, l := range p.slots {
			if l == nil {
				continue
			}
			near := r.isNear(l)
			if near == l.Near {
				continue
			}
			// Copy so slots previously returned to callers stay intact.
			nl := *l
			nl.Near = near
			p.slots[i] = &nl
			res.Changed = append(res.Changed, slotOf(p.name, i, &nl))
			if near {
				res.Alerts = append(res.Alerts, nl)
			}
		}
	}
	return res
}

func (r *Registry) isNear(l *Line) bool {
	if !r.hasPrice || !l.Level.Kind.IsGamma() || l.Level.Kind == model.KindMaxPain {
		return false
	}
	return math.Abs(l.Level.Price-r.price)/r.price <= NearThreshold
}

// Slots returns every slot of both pools, regular first.
func (r *Registry) Slots() []Slot {
	out := make([]Slot, 0, len(r.regular)+len(r.gamma))
	for i, l := range r.regular {
		out = append(out, slotOf(PoolRegular, i, l))
	}
	for i, l := range r.gamma {
		out = append(out, slotOf(PoolGamma, i, l))
	}
	return out
}

// Active returns the occupied slots, regular first.
func (r *Registry) Active() []Slot {
	var out []Slot
	for _, s := range r.Slots() {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// Clear empties every slot and returns the slots that were occupied.
func (r *Registry) Clear() []Slot {
	var out []Slot
	for _, p := range []struct {
		name  Pool
		slots []*Line
	}{{PoolRegular, r.regular}, {PoolGamma, r.gamma}} {
		for i, l := range p.slots {
			if l != nil {
				p.slots[i] = nil
				out = append(out, Slot{Pool: p.name, Index: i})
			}
		}
	}
	return out
}
