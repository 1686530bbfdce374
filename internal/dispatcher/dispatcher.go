// Package dispatcher routes live bars into a chart's candle store and
// indicator engine.
//
// It is a two-state machine over the last bar: the Building bar receives
// same-timestamp updates in place, and is Committed the moment a bar with a
// later timestamp arrives. Every call completes synchronously; nothing is
// returned to the caller as an error because one bad tick must not stop a
// live stream.
package dispatcher

import (
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"kcu-companion/internal/candlestore"
	"kcu-companion/internal/model"
)

// DropReason explains why a tick was discarded.
type DropReason string

const (
	DropMalformed DropReason = "malformed" // non-finite price or bad timestamp
	DropStale     DropReason = "stale"     // older than the building bar
)

// Outcome is what OnTick did with a tick.
type Outcome int

const (
	Dropped Outcome = iota
	Updated         // merged into the building bar
	Started         // committed the previous bar and started a new one
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "updated"
	case Started:
		return "started"
	default:
		return "dropped"
	}
}

// Engine is the incremental indicator update the dispatcher drives.
// *indicator.Engine satisfies it.
type Engine interface {
	OnAppend(candles []model.Candle)
	OnReplaceLast(candles []model.Candle)
}

// LatencyObserver receives the processing duration of every accepted tick.
type LatencyObserver interface {
	ObserveTickLatency(d time.Duration)
}

// LatencyFunc adapts a function to LatencyObserver.
type LatencyFunc func(time.Duration)

func (f LatencyFunc) ObserveTickLatency(d time.Duration) { f(d) }

// Stats counts ticks by outcome.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Updated   uint64 `json:"updated"`
	Started   uint64 `json:"started"`
	Malformed uint64 `json:"malformed"`
	Stale     uint64 `json:"stale"`
}

// Options configures a Dispatcher. All fields are optional.
type Options struct {
	Clock    clock.Clock
	Observer LatencyObserver
	Logger   *slog.Logger
}

// Dispatcher applies live bars to one chart. Not safe for concurrent use:
// the caller serializes ticks.
type Dispatcher struct {
	store    *candlestore.Store
	engine   Engine
	clock    clock.Clock
	observer LatencyObserver
	log      *slog.Logger
	stats    Stats

	// Hooks (optional)
	OnDrop   func(reason DropReason, c model.Candle) // called for every discarded tick
	OnCommit func(c model.Candle)                    // called when a building bar is finalized
}

// New creates a dispatcher over store and engine.
func New(store *candlestore.Store, engine Engine, opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		store:    store,
		engine:   engine,
		clock:    opts.Clock,
		observer: opts.Observer,
		log:      opts.Logger,
	}
}

// OnTick applies one live bar. Timestamps in milliseconds are normalized to
// seconds first.
func (d *Dispatcher) OnTick(c model.Candle) Outcome {
	start := d.clock.Now()
	d.stats.Ticks++

	c = c.Normalized()
	if !c.Finite() {
		d.drop(DropMalformed, c)
		return Dropped
	}

	building, ok := d.store.Last()
	var out Outcome
	switch {
	case !ok || c.Time > building.Time:
		if ok && d.OnCommit != nil {
			d.OnCommit(building)
		}
		d.store.Append(c)
		d.engine.OnAppend(d.store.View())
		d.stats.Started++
		out = Started

	case c.Time == building.Time:
		d.store.Append(building.Merge(c))
		d.engine.OnReplaceLast(d.store.View())
		d.stats.Updated++
		out = Updated

	default:
		d.drop(DropStale, c)
		return Dropped
	}

	if d.observer != nil {
		d.observer.ObserveTickLatency(d.clock.Since(start))
	}
	return out
}

func (d *Dispatcher) drop(reason DropReason, c model.Candle) {
	switch reason {
	case DropMalformed:
		d.stats.Malformed++
	case DropStale:
		d.stats.Stale++
	}
	d.log.Debug("tick dropped", "reason", string(reason), "time", c.Time)
	if d.OnDrop != nil {
		d.OnDrop(reason, c)
	}
}

// Building returns the in-progress bar, or false before the first bar.
func (d *Dispatcher) Building() (model.Candle, bool) { return d.store.Last() }

// Stats returns the tick counters.
func (d *Dispatcher) Stats() Stats { return d.stats }

// ResetStats zeroes the tick counters.
func (d *Dispatcher) ResetStats() { d.stats = Stats{} }
