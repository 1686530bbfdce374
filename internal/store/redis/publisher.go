package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"kcu-companion/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// Publisher writes bars and level snapshots the way the upstream services
// do. The replay tool uses it to drive a running companion.
type Publisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker
}

// NewPublisher creates a Publisher guarded by a default circuit breaker.
func NewPublisher(client *goredis.Client) *Publisher {
	return &Publisher{client: client, breaker: NewCircuitBreaker(5, 10*time.Second)}
}

// PublishCandle sets candle:{tf}s:latest:{symbol} and publishes the bar on
// its candle channel in one pipeline.
func (p *Publisher) PublishCandle(ctx context.Context, fc model.FeedCandle) error {
	data := string(fc.Candle.JSON())
	latestKey := fmt.Sprintf("candle:%ds:latest:%s", fc.TF, fc.Symbol)

	return p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, latestKey, data, defaultLatestTTL)
		pipe.Publish(ctx, model.CandleChannel(fc.Symbol, fc.TF), data)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis publish candle %s: %w", model.ChartKey(fc.Symbol, fc.TF), err)
		}
		return nil
	})
}

// PublishLevels stores snap under levels:{symbol} and announces it.
func (p *Publisher) PublishLevels(ctx context.Context, snap model.LevelSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal levels: %w", err)
	}
	return p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, model.LevelsKey(snap.Symbol), string(data), 0)
		pipe.Publish(ctx, model.LevelsChannel(snap.Symbol), string(data))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis publish levels %s: %w", snap.Symbol, err)
		}
		return nil
	})
}
