// Package chart wires the candle store, indicator engine, level registry,
// viewport controller and live dispatcher of one symbol/timeframe into a
// single update pipeline.
//
// Every entry point runs one synchronous cycle in a fixed order: store,
// indicators, levels, viewport, then the render surface. A Chart is owned by
// one goroutine; charts share no state with each other.
package chart

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/benbjohnson/clock"

	"kcu-companion/internal/candlestore"
	"kcu-companion/internal/dispatcher"
	"kcu-companion/internal/indicator"
	"kcu-companion/internal/levels"
	"kcu-companion/internal/model"
	"kcu-companion/internal/viewport"
)

// Config describes one chart. Zero values select defaults.
type Config struct {
	Symbol string
	TF     int // bar size in seconds

	Specs     []indicator.Spec
	SessionOf indicator.SessionFunc

	RegularSlots int
	GammaSlots   int
	LevelMode    levels.Mode
	Styles       levels.StyleTable

	VisibleBars int
	Capacity    int // initial store capacity

	Clock    clock.Clock
	Observer dispatcher.LatencyObserver
	Logger   *slog.Logger
}

// Chart is the per-symbol pipeline.
type Chart struct {
	symbol string
	tf     int

	store    *candlestore.Store
	engine   *indicator.Engine
	registry *levels.Registry
	view     *viewport.Controller
	disp     *dispatcher.Dispatcher

	surface   Surface
	log       *slog.Logger
	destroyed bool

	// Hooks (optional)
	OnAlert  func(line levels.Line, price float64)              // gamma level became near
	OnCommit func(c model.Candle)                               // building bar finalized
	OnDrop   func(reason dispatcher.DropReason, c model.Candle) // tick discarded
}

// New creates a chart drawing onto surface. A nil surface is headless.
func New(cfg Config, surface Surface) *Chart {
	if cfg.Specs == nil {
		cfg.Specs = indicator.DefaultSpecs()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 2048
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if surface == nil {
		surface = NopSurface{}
	}
	log := cfg.Logger.With("chart", model.ChartKey(cfg.Symbol, cfg.TF))

	c := &Chart{
		symbol:  cfg.Symbol,
		tf:      cfg.TF,
		store:   candlestore.New(cfg.Capacity),
		engine:  indicator.NewEngine(cfg.Specs, cfg.SessionOf),
		view:    viewport.New(cfg.VisibleBars),
		surface: surface,
		log:     log,
	}
	c.registry = levels.New(levels.Options{
		RegularSlots: cfg.RegularSlots,
		GammaSlots:   cfg.GammaSlots,
		Mode:         cfg.LevelMode,
		Styles:       cfg.Styles,
		Clock:        cfg.Clock,
		Logger:       log,
	})
	c.disp = dispatcher.New(c.store, c.engine, dispatcher.Options{
		Clock:    cfg.Clock,
		Observer: cfg.Observer,
		Logger:   log,
	})
	c.disp.OnCommit = func(b model.Candle) {
		if c.OnCommit != nil {
			c.OnCommit(b)
		}
	}
	c.disp.OnDrop = func(r dispatcher.DropReason, b model.Candle) {
		if c.OnDrop != nil {
			c.OnDrop(r, b)
		}
	}
	return c
}

// Symbol returns the chart's symbol.
func (c *Chart) Symbol() string { return c.symbol }

// TF returns the bar size in seconds.
func (c *Chart) TF() int { return c.tf }

// Key returns "SYMBOL:TFs".
func (c *Chart) Key() string { return model.ChartKey(c.symbol, c.tf) }

// Destroyed reports whether Destroy has run.
func (c *Chart) Destroyed() bool { return c.destroyed }

// Load replaces the history with candles (sorted ascending by the caller),
// recomputes every overlay and redraws.
func (c *Chart) Load(candles []model.Candle) {
	if c.destroyed {
		return
	}
	norm := make([]model.Candle, len(candles))
	for i, cd := range candles {
		norm[i] = cd.Normalized()
	}

	c.store.BulkLoad(norm)
	c.engine.Recompute(c.store.View())
	lv := c.updatePrice()
	act := c.view.OnBulkLoad(c.store.Len())

	c.call("SetCandles", func(s Surface) error { return s.SetCandles(c.store.Candles()) })
	for _, ser := range c.engine.Series() {
		ser := ser
		c.call("SetSeriesData", func(s Surface) error { return s.SetSeriesData(ser.Name, ser.Points) })
	}
	c.applyLevels(lv)
	c.applyView(act)
	c.log.Info("history loaded", "bars", c.store.Len())
}

// OnTick applies one live bar update.
func (c *Chart) OnTick(cd model.Candle) dispatcher.Outcome {
	if c.destroyed {
		return dispatcher.Dropped
	}
	out := c.disp.OnTick(cd)
	if out == dispatcher.Dropped {
		return out
	}

	last, _ := c.store.Last()
	lv := c.updatePrice()
	var act viewport.Action
	if out == dispatcher.Started {
		act = c.view.OnAppend(c.store.Len())
	}

	c.call("UpdateCandle", func(s Surface) error { return s.UpdateCandle(last) })
	for name, p := range c.engine.LastPoints() {
		name, p := name, p
		c.call("UpdateLastPoint", func(s Surface) error { return s.UpdateLastPoint(name, p) })
	}
	c.applyLevels(lv)
	c.applyView(act)
	return out
}

// SetLevels replaces the level set from a snapshot.
func (c *Chart) SetLevels(lvls []model.PriceLevel, gamma []model.GammaLevel) {
	if c.destroyed {
		return
	}
	res := c.registry.Update(lvls, gamma)
	c.applyLevels(res)
}

// ReloadIndicators switches the overlay set. Overlays kept by name keep
// their state; new ones are computed over the loaded history. Dropped
// overlays are cleared on the surface with empty data.
func (c *Chart) ReloadIndicators(specs []indicator.Spec) (preserved, created int) {
	if c.destroyed {
		return 0, 0
	}
	keep := make(map[string]bool, len(specs))
	for _, s := range specs {
		keep[s.Name()] = true
	}
	var removed []string
	for _, s := range c.engine.Specs() {
		if !keep[s.Name()] {
			removed = append(removed, s.Name())
		}
	}

	preserved, created = c.engine.ReloadSpecs(specs, c.store.View())

	for _, name := range removed {
		name := name
		c.call("SetSeriesData", func(s Surface) error { return s.SetSeriesData(name, nil) })
	}
	for _, ser := range c.engine.Series() {
		ser := ser
		c.call("SetSeriesData", func(s Surface) error { return s.SetSeriesData(ser.Name, ser.Points) })
	}
	c.log.Info("indicators reloaded", "preserved", preserved, "created", created, "removed", len(removed))
	return preserved, created
}

// ScrollToRealtime jumps to the newest bars and follows appends.
func (c *Chart) ScrollToRealtime() {
	if c.destroyed {
		return
	}
	c.applyView(c.view.ScrollToRealtime())
}

// ShowLast shows the most recent k bars.
func (c *Chart) ShowLast(k int) {
	if c.destroyed {
		return
	}
	c.applyView(c.view.ShowLast(k))
}

// SetRange shows bars from..to (clamped) and stops following.
func (c *Chart) SetRange(from, to int) {
	if c.destroyed {
		return
	}
	c.applyView(c.view.SetRange(from, to))
}

// Stats returns the dispatcher counters.
func (c *Chart) Stats() dispatcher.Stats { return c.disp.Stats() }

// Destroy clears every drawn primitive and turns all later calls into
// no-ops.
func (c *Chart) Destroy() {
	if c.destroyed {
		return
	}
	for _, slot := range c.registry.Clear() {
		slot := slot
		c.call("ClearLine", func(s Surface) error { return s.ClearLine(slot) })
	}
	c.call("Reset", func(s Surface) error { return s.Reset() })

	c.store.Reset()
	c.engine.Reset()
	c.view.Reset()
	c.destroyed = true
	c.surface = NopSurface{}
	c.log.Info("chart destroyed")
}

// updatePrice feeds the last close into the proximity check.
func (c *Chart) updatePrice() levels.Result {
	last, ok := c.store.Last()
	if !ok {
		return levels.Result{}
	}
	return c.registry.UpdatePrice(last.Close)
}

func (c *Chart) applyLevels(res levels.Result) {
	for _, slot := range res.Changed {
		slot := slot
		if slot.Active {
			c.call("SetLine", func(s Surface) error { return s.SetLine(slot) })
		} else {
			c.call("ClearLine", func(s Surface) error { return s.ClearLine(slot) })
		}
	}
	if len(res.Alerts) == 0 {
		return
	}
	last, _ := c.store.Last()
	for _, line := range res.Alerts {
		line := line
		slot := c.slotFor(line.Key)
		c.call("SetLevelAlert", func(s Surface) error { return s.SetLevelAlert(slot, true) })
		c.log.Info("level proximity", "level", line.Level.Label, "kind", string(line.Level.Kind), "price", line.Level.Price, "close", last.Close)
		if c.OnAlert != nil {
			c.OnAlert(line, last.Close)
		}
	}
}

func (c *Chart) slotFor(key string) levels.Slot {
	for _, s := range c.registry.Active() {
		if s.Line.Key == key {
			return s
		}
	}
	return levels.Slot{}
}

func (c *Chart) applyView(a viewport.Action) {
	if a.Fit {
		c.call("FitContent", func(s Surface) error { return s.FitContent() })
	}
	if a.Range != nil {
		r := *a.Range
		c.call("SetVisibleRange", func(s Surface) error { return s.SetVisibleRange(r.From, r.To) })
	}
}

// call invokes a surface method, absorbing errors and panics.
func (c *Chart) call(op string, fn func(Surface) error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("surface panic", "op", op, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(c.surface); err != nil {
		c.log.Debug("surface error", "op", op, "err", err)
	}
}
