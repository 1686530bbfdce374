package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcu-companion/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// publishUntil repeats publish until a value shows up on out. The first
// publishes may land before the subscription is active.
func publishUntil[T any](t *testing.T, out <-chan T, publish func()) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		publish()
		select {
		case v := <-out:
			return v
		case <-tick.C:
		case <-deadline:
			t.Fatal("nothing received")
		}
	}
}

func callWall(symbol string, price float64) model.LevelSnapshot {
	return model.LevelSnapshot{
		Symbol: symbol,
		Levels: []model.PriceLevel{{Price: price, Label: "Call Wall", Kind: model.KindCallWall}},
	}
}

func TestPublisher_CandleReachesFeed(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(client, []string{"SPY"}, 60)
	out := make(chan model.FeedCandle, 16)
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, out) }()

	pub := NewPublisher(client)
	bar := model.FeedCandle{Symbol: "SPY", TF: 60, Candle: model.Candle{Time: 1_772_461_800, Open: 500, High: 501, Low: 499, Close: 500.5, Volume: 1200}}
	got := publishUntil(t, out, func() { require.NoError(t, pub.PublishCandle(ctx, bar)) })

	assert.Equal(t, bar, got)
	stored, err := mr.Get("candle:60s:latest:SPY")
	require.NoError(t, err)
	assert.JSONEq(t, string(bar.Candle.JSON()), stored)
	assert.Equal(t, defaultLatestTTL, mr.TTL("candle:60s:latest:SPY"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean stop")
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestFeed_DecodeErrorsSkipped(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(client, []string{"SPY"}, 60)
	var bad atomic.Int32
	feed.OnDecodeError = func(string, error) { bad.Add(1) }
	out := make(chan model.FeedCandle, 16)
	go feed.Run(ctx, out)

	channel := model.CandleChannel("SPY", 60)
	got := publishUntil(t, out, func() {
		mr.Publish(channel, "not json")
		mr.Publish(channel, `{"ts":1772461800000,"open":1,"high":2,"low":0.5,"close":1.5}`)
	})
	assert.Equal(t, int64(1_772_461_800), got.Candle.Time, "millisecond stamps are normalized")
	assert.Equal(t, 1.5, got.Candle.Close)
	assert.Positive(t, bad.Load())
}

func TestFeed_NoChannels(t *testing.T) {
	_, client := newTestRedis(t)
	err := NewFeed(client, nil, 60).Run(context.Background(), make(chan model.FeedCandle))
	assert.Error(t, err)
}

func TestLevelSource_Latest(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	src := NewLevelSource(client, nil)

	snap, err := src.Latest(ctx, "SPY")
	require.NoError(t, err)
	assert.Nil(t, snap, "missing key is not an error")

	require.NoError(t, NewPublisher(client).PublishLevels(ctx, callWall("SPY", 505)))
	snap, err = src.Latest(ctx, "SPY")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, callWall("SPY", 505), *snap)
}

func TestLevelSource_LatestThroughBreaker(t *testing.T) {
	mr, client := newTestRedis(t)
	breaker, _ := newTestBreaker(2, time.Minute)
	src := NewLevelSource(client, breaker)

	mr.SetError("ERR simulated outage")
	for i := 0; i < 2; i++ {
		_, err := src.Latest(context.Background(), "SPY")
		assert.Error(t, err)
	}
	assert.Equal(t, StateOpen, breaker.CurrentState())

	mr.SetError("")
	_, err := src.Latest(context.Background(), "SPY")
	assert.ErrorIs(t, err, ErrCircuitOpen, "open breaker short-circuits the GET")
}

func TestLevelSource_SubscribeSnapshotAndNotice(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewLevelSource(client, nil)
	out := make(chan model.LevelSnapshot, 16)
	go src.Subscribe(ctx, []string{"SPY", "QQQ"}, out)

	pub := NewPublisher(client)
	got := publishUntil(t, out, func() { require.NoError(t, pub.PublishLevels(ctx, callWall("SPY", 505))) })
	assert.Equal(t, callWall("SPY", 505), got)

	// A bare notice makes the source read the stored snapshot.
	stored := `{"levels":[{"price":430,"label":"Put Wall","kind":"put_wall"}]}`
	require.NoError(t, mr.Set(model.LevelsKey("QQQ"), stored))
	mr.Publish(model.LevelsChannel("QQQ"), "updated")

	select {
	case got = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("notice did not fetch the stored snapshot")
	}
	for got.Symbol == "SPY" {
		got = <-out
	}
	assert.Equal(t, "QQQ", got.Symbol, "symbol filled in from the channel")
	require.Len(t, got.Levels, 1)
	assert.Equal(t, 430.0, got.Levels[0].Price)
	assert.Equal(t, model.KindPutWall, got.Levels[0].Kind)
}

func TestLevelSource_SubscribeRetriesUntilRedisIsUp(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewLevelSource(client, nil)
	src.MaxInterval = 50 * time.Millisecond
	var retries atomic.Int32
	src.OnReconnect = func(error, time.Duration) { retries.Add(1) }

	out := make(chan model.LevelSnapshot, 16)
	done := make(chan error, 1)
	go func() { done <- src.Subscribe(ctx, []string{"SPY"}, out) }()

	require.Eventually(t, func() bool { return retries.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, mr.Restart())

	pub := NewPublisher(client)
	got := publishUntil(t, out, func() { _ = pub.PublishLevels(ctx, callWall("SPY", 510)) })
	assert.Equal(t, 510.0, got.Levels[0].Price)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}
