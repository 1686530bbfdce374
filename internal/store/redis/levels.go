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

// LevelSource reads level snapshots written by the analysis service and
// implements model.LevelSource. Reads go through a circuit breaker so a
// struggling Redis does not stall chart event loops.
type LevelSource struct {
	client  *goredis.Client
	breaker *CircuitBreaker

	// OnReconnect is called before each resubscribe attempt.
	OnReconnect func(err error, wait time.Duration)
	// MaxInterval caps the resubscribe backoff. Zero means 30s.
	MaxInterval time.Duration
}

// NewLevelSource creates a LevelSource. A nil breaker gets a default one
// (5 failures, 10s reset).
func NewLevelSource(client *goredis.Client, breaker *CircuitBreaker) *LevelSource {
	if breaker == nil {
		breaker = NewCircuitBreaker(5, 10*time.Second)
	}
	return &LevelSource{client: client, breaker: breaker}
}

// Breaker returns the breaker guarding reads.
func (s *LevelSource) Breaker() *CircuitBreaker { return s.breaker }

// Latest returns the snapshot stored under levels:{symbol}, or nil, nil.
func (s *LevelSource) Latest(ctx context.Context, symbol string) (*model.LevelSnapshot, error) {
	var data string
	err := s.breaker.Execute(func() error {
		var err error
		data, err = s.client.Get(ctx, model.LevelsKey(symbol)).Result()
		if errors.Is(err, goredis.Nil) {
			data = ""
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis get levels %s: %w", symbol, err)
	}
	if data == "" {
		return nil, nil
	}
	snap, err := DecodeLevels(symbol, []byte(data))
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Subscribe forwards snapshots announced on pub:levels:{symbol}. A message
// that is not itself a snapshot is treated as a change notice and the
// stored snapshot is fetched instead. A lost subscription is retried with
// exponential backoff. Blocks until ctx is cancelled.
func (s *LevelSource) Subscribe(ctx context.Context, symbols []string, out chan<- model.LevelSnapshot) error {
	if len(symbols) == 0 {
		return nil
	}
	channels := make([]string, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for i, sym := range symbols {
		channels[i] = model.LevelsChannel(sym)
		bySymbol[channels[i]] = sym
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = s.MaxInterval
	if expo.MaxInterval <= 0 {
		expo.MaxInterval = 30 * time.Second
	}
	expo.MaxElapsedTime = 0

	op := func() error {
		err := s.subscribe(ctx, expo, channels, bySymbol, out)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("[redis-levels] subscription lost: %v (retry in %s)", err, wait)
		if s.OnReconnect != nil {
			s.OnReconnect(err, wait)
		}
	}

	err := backoff.RetryNotify(op, backoff.WithContext(expo, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *LevelSource) subscribe(ctx context.Context, expo *backoff.ExponentialBackOff, channels []string, bySymbol map[string]string, out chan<- model.LevelSnapshot) error {
	ps := s.client.Subscribe(ctx, channels...)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe levels: %w", err)
	}
	expo.Reset()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis levels: channel closed")
			}
			symbol := bySymbol[msg.Channel]
			snap, err := DecodeLevels(symbol, []byte(msg.Payload))
			if err != nil {
				latest, lerr := s.Latest(ctx, symbol)
				if lerr != nil {
					log.Printf("[redis-levels] fetch %s after notice: %v", symbol, lerr)
					continue
				}
				if latest == nil {
					continue
				}
				snap = *latest
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
