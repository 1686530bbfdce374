package notification

import (
	"context"
	"log"
	"sync"
	"time"
)

// Async queues alerts for a background sender so callers on a chart event
// loop never wait on the network. If the queue is full the alert is dropped.
type Async struct {
	next    Notifier
	queue   chan Alert
	timeout time.Duration
	wg      sync.WaitGroup

	// OnDrop is called when an alert is dropped because the queue is full.
	OnDrop func(alert Alert)
}

// NewAsync wraps next with a queue of the given size.
func NewAsync(next Notifier, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Async{
		next:    next,
		queue:   make(chan Alert, queueSize),
		timeout: 10 * time.Second,
	}
}

// Send enqueues alert. It never blocks and never returns an error.
func (a *Async) Send(_ context.Context, alert Alert) error {
	select {
	case a.queue <- alert:
	default:
		if a.OnDrop != nil {
			a.OnDrop(alert)
		} else {
			log.Printf("[notify] queue full, dropping alert %q", alert.Title)
		}
	}
	return nil
}

// Run delivers queued alerts until ctx is cancelled, then drains what is
// left with a short deadline.
func (a *Async) Run(ctx context.Context) {
	a.wg.Add(1)
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case alert := <-a.queue:
			a.deliver(ctx, alert)
		}
	}
}

func (a *Async) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		select {
		case alert := <-a.queue:
			a.deliver(ctx, alert)
		default:
			return
		}
	}
}

func (a *Async) deliver(ctx context.Context, alert Alert) {
	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.next.Send(sendCtx, alert); err != nil {
		log.Printf("[notify] delivery failed: %v", err)
	}
}

// Wait blocks until Run has returned.
func (a *Async) Wait() { a.wg.Wait() }
