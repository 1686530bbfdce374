package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/go-redis/redis/v8"

	"kcu-companion/internal/model"
)

// Feed subscribes to the live candle channels of a set of charts and
// implements model.CandleFeed.
type Feed struct {
	client   *goredis.Client
	channels []string

	// OnReconnect is called before each resubscribe attempt (for metrics).
	OnReconnect func(err error, wait time.Duration)
	// OnDecodeError is called for every message that fails to decode.
	OnDecodeError func(channel string, err error)

	// MaxInterval caps the reconnect backoff. Zero means 30s.
	MaxInterval time.Duration
}

// NewFeed creates a feed for symbols on timeframe tf.
func NewFeed(client *goredis.Client, symbols []string, tf int) *Feed {
	channels := make([]string, len(symbols))
	for i, s := range symbols {
		channels[i] = model.CandleChannel(s, tf)
	}
	return &Feed{client: client, channels: channels}
}

// Channels returns the subscribed channel names.
func (f *Feed) Channels() []string { return f.channels }

// Run subscribes and forwards decoded bars to out until ctx is cancelled,
// resubscribing with exponential backoff when the subscription fails.
func (f *Feed) Run(ctx context.Context, out chan<- model.FeedCandle) error {
	if len(f.channels) == 0 {
		return errors.New("redis feed: no channels")
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = f.MaxInterval
	if expo.MaxInterval <= 0 {
		expo.MaxInterval = 30 * time.Second
	}
	expo.MaxElapsedTime = 0

	op := func() error {
		err := f.subscribe(ctx, expo, out)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("[redis-feed] subscription lost: %v (retry in %s)", err, wait)
		if f.OnReconnect != nil {
			f.OnReconnect(err, wait)
		}
	}

	err := backoff.RetryNotify(op, backoff.WithContext(expo, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (f *Feed) subscribe(ctx context.Context, expo *backoff.ExponentialBackOff, out chan<- model.FeedCandle) error {
	ps := f.client.Subscribe(ctx, f.channels...)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	expo.Reset()
	log.Printf("[redis-feed] subscribed to %d channels", len(f.channels))

	ch := ps.Channel(goredis.WithChannelSize(1000))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis feed: channel closed")
			}
			fc, err := DecodeCandle(msg.Channel, []byte(msg.Payload))
			if err != nil {
				if f.OnDecodeError != nil {
					f.OnDecodeError(msg.Channel, err)
				}
				continue
			}
			select {
			case out <- fc:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
