// Package companion runs the chart core as a service: one chart per symbol,
// each owned by its own event loop goroutine, fed from the live candle feed
// and the level source, persisted to the history store and rendered to
// WebSocket clients.
package companion

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"kcu-companion/internal/chart"
	"kcu-companion/internal/dispatcher"
	"kcu-companion/internal/gateway"
	"kcu-companion/internal/indicator"
	"kcu-companion/internal/latency"
	"kcu-companion/internal/levels"
	"kcu-companion/internal/logger"
	"kcu-companion/internal/markethours"
	"kcu-companion/internal/metrics"
	"kcu-companion/internal/model"
	"kcu-companion/internal/notification"
)

// ErrUnknownChart is returned for a symbol the service does not chart.
var ErrUnknownChart = errors.New("unknown chart")

// ErrStopped is returned once the service has shut down.
var ErrStopped = errors.New("service stopped")

// BarSink persists committed bars read from a channel until ctx is done.
type BarSink interface {
	Run(ctx context.Context, ch <-chan model.FeedCandle)
}

// Pruner deletes stored bars older than before (epoch seconds).
type Pruner interface {
	Prune(ctx context.Context, before int64) (int64, error)
}

// LevelArchive keeps the last level snapshot per symbol across restarts.
type LevelArchive interface {
	SaveLevels(ctx context.Context, snap model.LevelSnapshot) error
	ReadLevels(ctx context.Context, symbol string) (*model.LevelSnapshot, error)
}

// Options configures the service. Every collaborator is optional.
type Options struct {
	Symbols     []string
	TF          int
	Specs       []indicator.Spec
	HistoryDays int

	VisibleBars  int
	RegularSlots int
	GammaSlots   int
	LevelMode    levels.Mode
	Styles       levels.StyleTable

	RetentionDays int
	RetentionCron string // six-field cron spec (with seconds)

	History  model.CandleReader
	Sink     BarSink
	Pruner   Pruner
	Feed     model.CandleFeed
	Levels   model.LevelSource
	Archive  LevelArchive
	Notifier notification.Notifier
	Hub      *gateway.Hub
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus

	Clock  clock.Clock
	Logger *slog.Logger
}

// Service owns the charts and the goroutines feeding them.
type Service struct {
	opts    Options
	clock   clock.Clock
	log     *slog.Logger
	latency *latency.Tracker

	loops   map[string]*loop // fixed after New
	symbols []string

	commits chan model.FeedCandle
}

// New creates the charts. Nothing runs until Run.
func New(opts Options) (*Service, error) {
	if opts.TF <= 0 {
		return nil, errors.New("companion: timeframe must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 5
	}

	s := &Service{
		opts:    opts,
		clock:   opts.Clock,
		log:     opts.Logger,
		latency: latency.NewTracker(0),
		loops:   make(map[string]*loop),
		commits: make(chan model.FeedCandle, 1024),
	}

	for _, raw := range opts.Symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		if sym == "" || s.loops[sym] != nil {
			continue
		}
		s.loops[sym] = newLoop(s.newChart(sym))
		s.symbols = append(s.symbols, sym)
	}
	if len(s.symbols) == 0 {
		return nil, errors.New("companion: no symbols")
	}
	sort.Strings(s.symbols)

	if opts.Hub != nil {
		s.wireHub(opts.Hub)
	}
	if opts.Health != nil {
		keys := make([]string, len(s.symbols))
		for i, sym := range s.symbols {
			keys[i] = model.ChartKey(sym, opts.TF)
		}
		opts.Health.SetCharts(keys)
	}
	return s, nil
}

func (s *Service) newChart(symbol string) *chart.Chart {
	var surface chart.Surface
	if s.opts.Hub != nil {
		surface = gateway.NewSurface(s.opts.Hub, symbol)
	}
	if surface != nil && s.opts.Metrics != nil {
		surface = &meteredSurface{Surface: surface, m: s.opts.Metrics}
	}

	c := chart.New(chart.Config{
		Symbol:       symbol,
		TF:           s.opts.TF,
		Specs:        s.opts.Specs,
		RegularSlots: s.opts.RegularSlots,
		GammaSlots:   s.opts.GammaSlots,
		LevelMode:    s.opts.LevelMode,
		Styles:       s.opts.Styles,
		VisibleBars:  s.opts.VisibleBars,
		Clock:        s.clock,
		Observer:     dispatcher.LatencyFunc(s.observeLatency),
		Logger:       logger.ForChart(s.log, symbol, s.opts.TF),
	}, surface)

	c.OnCommit = func(b model.Candle) {
		if s.opts.Metrics != nil {
			s.opts.Metrics.BarsCommitted.WithLabelValues(symbol).Inc()
		}
		if s.opts.Sink == nil {
			return
		}
		select {
		case s.commits <- model.FeedCandle{Symbol: symbol, TF: s.opts.TF, Candle: b}:
		default:
			s.log.Warn("commit queue full, bar not persisted", "symbol", symbol, "time", b.Time)
		}
	}
	c.OnDrop = func(r dispatcher.DropReason, _ model.Candle) {
		if s.opts.Metrics != nil {
			s.opts.Metrics.DroppedTicks.WithLabelValues(symbol, string(r)).Inc()
		}
	}
	c.OnAlert = func(line levels.Line, price float64) {
		if s.opts.Metrics != nil {
			s.opts.Metrics.ProximityAlerts.WithLabelValues(symbol, string(line.Level.Kind)).Inc()
		}
		if s.opts.Notifier != nil {
			s.opts.Notifier.Send(context.Background(), notification.ProximityAlert(symbol, line, price))
		}
	}
	return c
}

func (s *Service) observeLatency(d time.Duration) {
	s.latency.ObserveTickLatency(d)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveTickLatency(d)
	}
}

// Symbols returns the charted symbols, sorted.
func (s *Service) Symbols() []string { return append([]string(nil), s.symbols...) }

// Latency returns the tick latency tracker.
func (s *Service) Latency() *latency.Tracker { return s.latency }

// Run loads history and levels, then feeds the charts until ctx is
// cancelled. Failures of optional collaborators are logged, not returned.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sym := range s.symbols {
		l := s.loops[sym]
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.run(ctx)
		}()
	}

	for _, sym := range s.symbols {
		s.loadHistory(ctx, sym)
		s.loadLevels(ctx, sym)
	}

	if s.opts.Sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.opts.Sink.Run(ctx, s.commits)
		}()
	}
	if s.opts.Feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runFeed(ctx)
		}()
	}
	if s.opts.Levels != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runLevels(ctx)
		}()
	}
	if s.opts.Metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runMarketState(ctx)
		}()
	}

	stopRetention := s.startRetention(ctx)

	s.log.Info("companion running", "charts", len(s.symbols), "tf", s.opts.TF)
	<-ctx.Done()

	stopRetention()
	wg.Wait()
	s.shutdown()
	return nil
}

func (s *Service) shutdown() {
	for _, sym := range s.symbols {
		s.loops[sym].chart.Destroy()
	}
	s.log.Info("companion stopped")
}

// loadHistory bulk-loads the last HistoryDays of bars into the chart.
func (s *Service) loadHistory(ctx context.Context, symbol string) {
	var candles []model.Candle
	if s.opts.History != nil {
		after := s.clock.Now().Add(-time.Duration(s.opts.HistoryDays) * 24 * time.Hour).Unix()
		var err error
		candles, err = s.opts.History.ReadCandles(ctx, symbol, s.opts.TF, after)
		if err != nil {
			s.log.Warn("history load failed, starting empty", "symbol", symbol, "err", err)
			candles = nil
		}
	}

	start := s.clock.Now()
	err := s.Do(ctx, symbol, func(c *chart.Chart) { c.Load(candles) })
	if err != nil {
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecomputeDur.Observe(s.clock.Since(start).Seconds())
	}
	s.log.Info("history loaded", "symbol", symbol, "bars", len(candles))
}

// loadLevels draws the latest level snapshot, falling back to the archive
// when the live source has none.
func (s *Service) loadLevels(ctx context.Context, symbol string) {
	var snap *model.LevelSnapshot
	if s.opts.Levels != nil {
		var err error
		snap, err = s.opts.Levels.Latest(ctx, symbol)
		if err != nil {
			s.log.Warn("level snapshot fetch failed", "symbol", symbol, "err", err)
		}
	}
	if snap == nil && s.opts.Archive != nil {
		var err error
		snap, err = s.opts.Archive.ReadLevels(ctx, symbol)
		if err != nil {
			s.log.Warn("archived levels unreadable", "symbol", symbol, "err", err)
		}
	}
	if snap == nil {
		return
	}
	s.applyLevels(ctx, *snap, false)
}

func (s *Service) applyLevels(ctx context.Context, snap model.LevelSnapshot, archive bool) {
	symbol := strings.ToUpper(snap.Symbol)
	err := s.Do(ctx, symbol, func(c *chart.Chart) { c.SetLevels(snap.Levels, snap.Gamma) })
	if err != nil {
		if errors.Is(err, ErrUnknownChart) {
			s.log.Debug("levels for uncharted symbol", "symbol", snap.Symbol)
		}
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.LevelSnapshots.WithLabelValues(symbol).Inc()
	}
	if archive && s.opts.Archive != nil {
		if err := s.opts.Archive.SaveLevels(ctx, snap); err != nil {
			s.log.Warn("level archive write failed", "symbol", symbol, "err", err)
		}
	}
}

// runFeed routes live bars to their chart loops.
func (s *Service) runFeed(ctx context.Context) {
	ch := make(chan model.FeedCandle, 1024)
	go func() {
		if err := s.opts.Feed.Run(ctx, ch); err != nil {
			s.log.Error("candle feed stopped", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fc := <-ch:
			s.routeTick(ctx, fc)
		}
	}
}

func (s *Service) routeTick(ctx context.Context, fc model.FeedCandle) {
	symbol := strings.ToUpper(fc.Symbol)
	if fc.TF != s.opts.TF {
		return
	}
	l, ok := s.loops[symbol]
	if !ok {
		return
	}
	if s.opts.Health != nil {
		s.opts.Health.SetFeedConnected(true)
		s.opts.Health.SetLastTickTime(s.clock.Now())
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.TicksTotal.WithLabelValues(symbol).Inc()
	}
	candle := fc.Candle
	l.post(ctx, func(c *chart.Chart) { c.OnTick(candle) })
}

// runLevels applies every published level snapshot and archives it.
func (s *Service) runLevels(ctx context.Context) {
	ch := make(chan model.LevelSnapshot, 64)
	go func() {
		if err := s.opts.Levels.Subscribe(ctx, s.symbols, ch); err != nil {
			s.log.Error("level subscription stopped", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			s.applyLevels(ctx, snap, true)
		}
	}
}

// runMarketState keeps the session phase gauge current.
func (s *Service) runMarketState(ctx context.Context) {
	set := func() {
		s.opts.Metrics.MarketState.Set(float64(markethours.PhaseAt(s.clock.Now())))
	}
	set()
	ticker := s.clock.Ticker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			set()
		}
	}
}

// Do runs fn on the chart's event loop and waits for it to finish.
func (s *Service) Do(ctx context.Context, symbol string, fn func(c *chart.Chart)) error {
	l, ok := s.loops[strings.ToUpper(symbol)]
	if !ok {
		return ErrUnknownChart
	}
	done := make(chan struct{})
	task := func(c *chart.Chart) {
		defer close(done)
		fn(c)
	}
	select {
	case l.events <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Snapshot returns the chart state for symbol.
func (s *Service) Snapshot(ctx context.Context, symbol string) (chart.Snapshot, error) {
	var snap chart.Snapshot
	err := s.Do(ctx, symbol, func(c *chart.Chart) { snap = c.Snapshot() })
	return snap, err
}

// ReloadIndicators switches every chart to specs.
func (s *Service) ReloadIndicators(ctx context.Context, specs []indicator.Spec) (preserved, created int, err error) {
	if err := indicator.ValidateSpecs(specs); err != nil {
		return 0, 0, err
	}
	for _, sym := range s.symbols {
		err := s.Do(ctx, sym, func(c *chart.Chart) {
			p, n := c.ReloadIndicators(specs)
			preserved += p
			created += n
		})
		if err != nil {
			return preserved, created, err
		}
	}
	return preserved, created, nil
}

func (s *Service) wireHub(h *gateway.Hub) {
	h.Snapshot = func(symbol string) ([]byte, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var env []byte
		err := s.Do(ctx, symbol, func(c *chart.Chart) {
			var err error
			env, err = h.SnapshotEnvelope(c.Symbol(), c.Snapshot())
			if err != nil {
				s.log.Warn("snapshot encode failed", "symbol", c.Symbol(), "err", err)
			}
		})
		return env, err == nil && env != nil
	}
	h.OnCommand = func(symbol, command string) {
		if command != "realtime" {
			return
		}
		if l, ok := s.loops[strings.ToUpper(symbol)]; ok {
			l.post(context.Background(), func(c *chart.Chart) { c.ScrollToRealtime() })
		}
	}
	if s.opts.Metrics != nil {
		m := s.opts.Metrics
		h.OnClients = func(n int) { m.WSClients.Set(float64(n)) }
		h.OnDrop = func() { m.WSDropped.Inc() }
	}
}
