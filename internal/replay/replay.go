// Package replay reads stored bars and emits them as a live feed at a
// configurable speed, so a chart can be driven offline through the same
// dispatcher path it uses in production.
package replay

import (
	"context"
	"log"
	"time"

	"github.com/benbjohnson/clock"

	"kcu-companion/internal/model"
)

// MaxGap caps the pause between two bars regardless of speed.
const MaxGap = 5 * time.Second

// Source loads stored bars. *sqlite.Reader satisfies it.
type Source interface {
	ReadCandles(ctx context.Context, symbol string, tf int, afterTS int64) ([]model.Candle, error)
}

// Options controls one replay run.
type Options struct {
	Symbol string
	TF     int
	FromTS int64   // only bars with time > FromTS (0 = all)
	Speed  float64 // 1 = real time, 10 = 10x, 0 = as fast as possible

	// Intrabar emits each bar twice: first as an opening print, then
	// complete. The chart sees a forming bar before it is finalized.
	Intrabar bool
}

// Replayer emits stored bars into a channel.
type Replayer struct {
	src   Source
	clock clock.Clock
}

// New creates a Replayer. A nil clock uses the wall clock.
func New(src Source, clk clock.Clock) *Replayer {
	if clk == nil {
		clk = clock.New()
	}
	return &Replayer{src: src, clock: clk}
}

// Run replays the bars selected by opts into out and returns how many bars
// were emitted. It does not close out.
func (r *Replayer) Run(ctx context.Context, opts Options, out chan<- model.FeedCandle) (int, error) {
	candles, err := r.src.ReadCandles(ctx, opts.Symbol, opts.TF, opts.FromTS)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		log.Printf("[replay] no bars for %s tf=%ds", opts.Symbol, opts.TF)
		return 0, nil
	}
	log.Printf("[replay] loaded %d bars for %s, speed=%.1fx", len(candles), opts.Symbol, opts.Speed)

	var prev int64
	emitted := 0
	for _, c := range candles {
		if ctx.Err() != nil {
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		}

		if prev != 0 {
			if d := scaledGap(c.Time-prev, opts.Speed); d > 0 {
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-r.clock.After(d):
				}
			}
		}
		prev = c.Time

		if opts.Intrabar {
			if err := send(ctx, out, model.FeedCandle{Symbol: opts.Symbol, TF: opts.TF, Candle: opening(c)}); err != nil {
				return emitted, err
			}
		}
		if err := send(ctx, out, model.FeedCandle{Symbol: opts.Symbol, TF: opts.TF, Candle: c}); err != nil {
			return emitted, err
		}
		emitted++
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}

func send(ctx context.Context, out chan<- model.FeedCandle, fc model.FeedCandle) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- fc:
		return nil
	}
}

// opening is the first print of c: all four prices at the open, no volume.
func opening(c model.Candle) model.Candle {
	return model.Candle{Time: c.Time, Open: c.Open, High: c.Open, Low: c.Open, Close: c.Open}
}

// scaledGap converts a gap in bar seconds to a wall-clock pause.
func scaledGap(gapSeconds int64, speed float64) time.Duration {
	if speed <= 0 || gapSeconds <= 0 {
		return 0
	}
	d := time.Duration(float64(time.Duration(gapSeconds)*time.Second) / speed)
	if d > MaxGap {
		d = MaxGap
	}
	return d
}
