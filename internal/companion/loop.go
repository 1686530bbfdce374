package companion

import (
	"context"

	"kcu-companion/internal/chart"
)

// loop serializes every operation on one chart through a single goroutine.
type loop struct {
	chart  *chart.Chart
	events chan func(*chart.Chart)
	done   chan struct{}
}

func newLoop(c *chart.Chart) *loop {
	return &loop{
		chart:  c,
		events: make(chan func(*chart.Chart), 256),
		done:   make(chan struct{}),
	}
}

func (l *loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.events:
			fn(l.chart)
		}
	}
}

// post queues fn without waiting for it to run. It blocks while the queue
// is full, which applies backpressure to the feed.
func (l *loop) post(ctx context.Context, fn func(*chart.Chart)) bool {
	select {
	case l.events <- fn:
		return true
	case <-ctx.Done():
	case <-l.done:
	}
	return false
}
