package chart

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcu-companion/internal/dispatcher"
	"kcu-companion/internal/indicator"
	"kcu-companion/internal/levels"
	"kcu-companion/internal/model"
)

// recorder is a Surface that logs every call.
type recorder struct {
	calls    []string
	candles  []model.Candle
	series   map[string][]model.Point
	lines    map[string]levels.Slot
	alerts   []string
	rng      [2]int
	failWith error
	panicOn  string
}

func newRecorder() *recorder {
	return &recorder{series: map[string][]model.Point{}, lines: map[string]levels.Slot{}}
}

func (r *recorder) note(op string) error {
	r.calls = append(r.calls, op)
	if op == r.panicOn {
		panic("surface gone")
	}
	return r.failWith
}

func (r *recorder) SetCandles(cs []model.Candle) error {
	r.candles = append([]model.Candle(nil), cs...)
	return r.note("SetCandles")
}

func (r *recorder) UpdateCandle(c model.Candle) error {
	if n := len(r.candles); n > 0 && r.candles[n-1].Time == c.Time {
		r.candles[n-1] = c
	} else {
		r.candles = append(r.candles, c)
	}
	return r.note("UpdateCandle")
}

func (r *recorder) SetSeriesData(name string, pts []model.Point) error {
	r.series[name] = append([]model.Point(nil), pts...)
	return r.note("SetSeriesData")
}

func (r *recorder) UpdateLastPoint(name string, p model.Point) error {
	pts := r.series[name]
	if n := len(pts); n > 0 && pts[n-1].Time == p.Time {
		pts[n-1] = p
	} else {
		pts = append(pts, p)
	}
	r.series[name] = pts
	return r.note("UpdateLastPoint")
}

func (r *recorder) SetLine(s levels.Slot) error {
	r.lines[s.ID()] = s
	return r.note("SetLine")
}

func (r *recorder) ClearLine(s levels.Slot) error {
	delete(r.lines, s.ID())
	return r.note("ClearLine")
}

func (r *recorder) SetLevelAlert(s levels.Slot, near bool) error {
	r.alerts = append(r.alerts, fmt.Sprintf("%s:%v", s.ID(), near))
	return r.note("SetLevelAlert")
}

func (r *recorder) SetVisibleRange(from, to int) error {
	r.rng = [2]int{from, to}
	return r.note("SetVisibleRange")
}

func (r *recorder) FitContent() error { return r.note("FitContent") }
func (r *recorder) Reset() error      { return r.note("Reset") }

const t0 = int64(1_772_461_800) // 2026-03-02 09:30 New York

func history(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		px := 100 + float64(i%7)
		out[i] = model.Candle{Time: t0 + int64(i)*60, Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 100}
	}
	return out
}

func testConfig() Config {
	return Config{
		Symbol:      "SPY",
		TF:          60,
		Specs:       []indicator.Spec{{Type: "EMA", Period: 3}, {Type: "VWAP"}},
		VisibleBars: 10,
	}
}

func TestChart_LoadDrawsEverything(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec)
	c.Load(history(50))

	assert.Len(t, rec.candles, 50)
	assert.Len(t, rec.series["EMA_3"], 50)
	assert.Len(t, rec.series["VWAP"], 50)
	assert.Contains(t, rec.calls, "FitContent")
	assert.Equal(t, [2]int{40, 49}, rec.rng)

	want := indicator.ComputeEMA(history(50), 3)
	assert.Equal(t, want.Points, rec.series["EMA_3"])
}

func TestChart_LoadEmpty(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec)
	c.Load(nil)
	c.ScrollToRealtime()
	c.SetRange(5, 10)
	assert.Empty(t, rec.candles)
	assert.NotContains(t, rec.calls, "SetVisibleRange")
}

func TestChart_PipelineOrder(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec)
	c.Load(history(20))
	c.SetLevels(nil, []model.GammaLevel{{Price: 300, Kind: "call_wall"}})
	c.ScrollToRealtime()
	rec.calls = nil

	c.OnTick(model.Candle{Time: t0 + 20*60, Open: 299, High: 300, Low: 299, Close: 299.5, Volume: 10})

	// candles → indicators → levels → viewport
	require.GreaterOrEqual(t, len(rec.calls), 5)
	assert.Equal(t, "UpdateCandle", rec.calls[0])
	assert.Equal(t, "UpdateLastPoint", rec.calls[1])
	assert.Equal(t, "UpdateLastPoint", rec.calls[2])
	assert.Equal(t, "SetLine", rec.calls[3])
	assert.Equal(t, "SetLevelAlert", rec.calls[4])
	assert.Equal(t, "SetVisibleRange", rec.calls[len(rec.calls)-1])
}

func TestChart_LiveTicksMatchRecompute(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec)
	c.Load(history(30))

	for i := 30; i < 45; i++ {
		ts := t0 + int64(i)*60
		c.OnTick(model.Candle{Time: ts, Open: 101, High: 102, Low: 100, Close: 101, Volume: 50})
		c.OnTick(model.Candle{Time: ts, Open: 101, High: 104, Low: 99, Close: 103, Volume: 80})
	}

	snap := c.Snapshot()
	require.Len(t, snap.Candles, 45)
	ema := indicator.ComputeEMA(snap.Candles, 3)
	vwap := indicator.ComputeVWAP(snap.Candles, nil)
	assert.Equal(t, ema.Points, rec.series["EMA_3"])
	assert.Equal(t, vwap.Points, rec.series["VWAP"])
	assert.Equal(t, snap.Candles, rec.candles)
}

func TestChart_NoScrollOnAppendUnlessRequested(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec)
	c.Load(history(20))
	rec.calls = nil

	c.OnTick(model.Candle{Time: t0 + 20*60, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	assert.NotContains(t, rec.calls, "SetVisibleRange")
	assert.NotContains(t, rec.calls, "FitContent")

	c.ScrollToRealtime()
	c.OnTick(model.Candle{Time: t0 + 21*60, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	assert.Equal(t, [2]int{12, 21}, rec.rng)
}

func TestChart_DropsReported(t *testing.T) {
	c := New(testConfig(), nil)
	var reasons []dispatcher.DropReason
	c.OnDrop = func(r dispatcher.DropReason, _ model.Candle) { reasons = append(reasons, r) }
	c.Load(history(5))

	assert.Equal(t, dispatcher.Dropped, c.OnTick(model.Candle{Time: t0, Open: 1, High: 1, Low: 1, Close: 1}))
	assert.Equal(t, []dispatcher.DropReason{dispatcher.DropStale}, reasons)
}

func TestChart_CommitHook(t *testing.T) {
	c := New(testConfig(), nil)
	var committed []int64
	c.OnCommit = func(b model.Candle) { committed = append(committed, b.Time) }
	c.Load(history(3))
	c.OnTick(model.Candle{Time: t0 + 3*60, Open: 1, High: 1, Low: 1, Close: 1})
	assert.Equal(t, []int64{t0 + 2*60}, committed)
}

func TestChart_LevelAlertHook(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec)
	var alerts []levels.Line
	c.OnAlert = func(l levels.Line, _ float64) { alerts = append(alerts, l) }

	c.Load(history(5)) // last close 104
	c.SetLevels(
		[]model.PriceLevel{{Price: 104, Label: "PDH", Kind: model.KindResistance}},
		[]model.GammaLevel{{Price: 104.5, Kind: "put_wall"}, {Price: 104.2, Kind: "max_pain"}},
	)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.KindPutWall, alerts[0].Level.Kind)
	assert.Equal(t, []string{"gamma:0:true"}, rec.alerts)
	assert.Len(t, rec.lines, 3)
}

func TestChart_SurfaceErrorsAndPanicsAbsorbed(t *testing.T) {
	rec := newRecorder()
	rec.failWith = errors.New("detached")
	rec.panicOn = "UpdateCandle"
	c := New(testConfig(), rec)

	assert.NotPanics(t, func() {
		c.Load(history(10))
		c.OnTick(model.Candle{Time: t0 + 10*60, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
		c.SetLevels([]model.PriceLevel{{Price: 1, Kind: model.KindSupport}}, nil)
	})
	assert.Len(t, c.Snapshot().Candles, 11)
}

func TestChart_DestroyThenNoOp(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec)
	c.Load(history(10))
	c.SetLevels([]model.PriceLevel{{Price: 100, Kind: model.KindSupport}, {Price: 110, Kind: model.KindResistance}}, nil)

	c.Destroy()
	assert.True(t, c.Destroyed())
	assert.Empty(t, rec.lines)
	assert.Equal(t, "Reset", rec.calls[len(rec.calls)-1])

	rec.calls = nil
	assert.Equal(t, dispatcher.Dropped, c.OnTick(model.Candle{Time: t0 + 10*60, Open: 1, High: 1, Low: 1, Close: 1}))
	c.Load(history(3))
	c.SetLevels([]model.PriceLevel{{Price: 1, Kind: model.KindSupport}}, nil)
	c.ScrollToRealtime()
	c.ShowLast(5)
	c.SetRange(0, 1)
	c.Destroy()
	assert.Empty(t, rec.calls)
	assert.Empty(t, c.Snapshot().Candles)
}

func TestChart_IndependentInstances(t *testing.T) {
	a := New(testConfig(), nil)
	cfg := testConfig()
	cfg.Symbol = "QQQ"
	b := New(cfg, nil)

	a.Load(history(10))
	b.Load(history(3))
	a.SetLevels([]model.PriceLevel{{Price: 100, Kind: model.KindSupport}}, nil)

	assert.Len(t, a.Snapshot().Candles, 10)
	assert.Len(t, b.Snapshot().Candles, 3)
	assert.Len(t, a.Snapshot().Levels, 1)
	assert.Empty(t, b.Snapshot().Levels)
	assert.Equal(t, "QQQ:60s", b.Key())
}

func TestSnapshot_Replay(t *testing.T) {
	c := New(testConfig(), nil)
	c.Load(history(12))
	c.SetLevels([]model.PriceLevel{{Price: 100, Kind: model.KindSupport}}, nil)

	rec := newRecorder()
	require.NoError(t, c.Snapshot().Replay(rec))
	assert.Len(t, rec.candles, 12)
	assert.Len(t, rec.series, 2)
	assert.Len(t, rec.lines, 1)
	assert.Equal(t, [2]int{2, 11}, rec.rng)
}

func TestSnapshot_ReplayRestoresAlerts(t *testing.T) {
	c := New(testConfig(), nil)
	c.Load(history(5)) // last close 104
	c.SetLevels(
		[]model.PriceLevel{{Price: 104, Label: "PDH", Kind: model.KindResistance}},
		[]model.GammaLevel{{Price: 104.5, Kind: "put_wall"}, {Price: 130, Kind: "call_wall"}},
	)

	late := newRecorder()
	require.NoError(t, c.Snapshot().Replay(late))
	assert.Len(t, late.lines, 3)
	assert.Equal(t, []string{"gamma:0:true"}, late.alerts, "only the near slot pulses")
}

func TestChart_ReloadIndicators(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec)
	c.Load(history(40))

	preserved, created := c.ReloadIndicators([]indicator.Spec{{Type: "EMA", Period: 3}, {Type: "SMA", Period: 5}})
	assert.Equal(t, 1, preserved)
	assert.Equal(t, 1, created)
	assert.Empty(t, rec.series["VWAP"], "dropped overlay is cleared")
	assert.Equal(t, indicator.ComputeSMA(history(40), 5).Points, rec.series["SMA_5"])

	c.OnTick(model.Candle{Time: t0 + 40*60, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10})
	snap := c.Snapshot()
	assert.Equal(t, indicator.ComputeSMA(snap.Candles, 5).Points, rec.series["SMA_5"])
	assert.Equal(t, indicator.ComputeEMA(snap.Candles, 3).Points, rec.series["EMA_3"])
}
