// cmd/replay replays stored bars from SQLite through a headless chart to
// check indicator values without a live feed.
//
// Usage:
//
//	go run ./cmd/replay --symbol=SPY --tf=60 --speed=100 --intrabar
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kcu-companion/config"
	"kcu-companion/internal/chart"
	"kcu-companion/internal/indicator"
	"kcu-companion/internal/latency"
	"kcu-companion/internal/levels"
	"kcu-companion/internal/logger"
	"kcu-companion/internal/markethours"
	"kcu-companion/internal/model"
	"kcu-companion/internal/replay"
	redisstore "kcu-companion/internal/store/redis"
	sqlitestore "kcu-companion/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	cfg := config.Load()

	symbol := flag.String("symbol", "SPY", "Symbol to replay")
	tf := flag.Int("tf", cfg.TF, "Bar size in seconds")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	indicatorCfg := flag.String("indicators", cfg.Indicators, "Indicator specs: TYPE:PERIOD,...,VWAP")
	intrabar := flag.Bool("intrabar", false, "Emit an opening print before each bar")
	levelsPath := flag.String("levels", "", "JSON level snapshot to draw before replay")
	recordPath := flag.String("record", "", "SQLite file to record committed bars into, resuming after its last bar")
	publish := flag.Bool("publish", false, "Publish committed bars and levels to Redis (REDIS_ADDR)")
	flag.Parse()

	specs := indicator.ParseSpecs(*indicatorCfg)
	if err := indicator.ValidateSpecs(specs); err != nil {
		log.Fatalf("[replay] %v", err)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[replay] sqlite open failed: %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	tracker := latency.NewTracker(0)
	c := chart.New(chart.Config{
		Symbol:    *symbol,
		TF:        *tf,
		Specs:     specs,
		SessionOf: markethours.SessionKeyOf,
		Observer:  tracker,
		Logger:    logger.ForChart(logger.Init("replay", logger.ParseLevel(cfg.LogLevel)), *symbol, *tf),
	}, nil)

	var rec *replay.Recorder
	if *recordPath != "" {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *recordPath})
		if err != nil {
			log.Fatalf("[replay] record db: %v", err)
		}
		*fromTS, err = replay.ResumeFrom(ctx, w, *symbol, *tf, *fromTS)
		if err != nil {
			log.Fatalf("[replay] %v", err)
		}
		rec = replay.NewRecorder(w, *symbol, *tf, 0)
		log.Printf("[replay] recording into %s from ts=%d", *recordPath, *fromTS)
	}

	committed := 0
	var pub *redisstore.Publisher
	if *publish {
		rdb, err := redisstore.Dial(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Fatalf("[replay] %v", err)
		}
		defer rdb.Close()
		pub = redisstore.NewPublisher(rdb)
	}
	alerts := 0
	c.OnAlert = func(line levels.Line, close float64) {
		alerts++
		fmt.Printf("  near %s %s @ %.2f (close %.2f)\n", line.Level.Kind, line.Level.Label, line.Level.Price, close)
	}
	if *levelsPath != "" {
		raw, err := os.ReadFile(*levelsPath)
		if err != nil {
			log.Fatalf("[replay] %v", err)
		}
		snap, err := redisstore.DecodeLevels(*symbol, raw)
		if err != nil {
			log.Fatalf("[replay] %v", err)
		}
		c.SetLevels(snap.Levels, snap.Gamma)
		if pub != nil {
			if err := pub.PublishLevels(ctx, snap); err != nil {
				log.Printf("[replay] publish levels failed: %v", err)
			}
		}
	}

	c.OnCommit = func(b model.Candle) {
		committed++
		if rec != nil {
			if err := rec.Add(ctx, b); err != nil {
				log.Printf("[replay] %v", err)
			}
		}
		if pub == nil {
			return
		}
		if err := pub.PublishCandle(ctx, model.FeedCandle{Symbol: *symbol, TF: *tf, Candle: b}); err != nil {
			log.Printf("[replay] publish failed: %v", err)
		}
	}

	feedCh := make(chan model.FeedCandle, 10000)
	go func() {
		defer close(feedCh)
		_, err := replay.New(reader, nil).Run(ctx, replay.Options{
			Symbol:   *symbol,
			TF:       *tf,
			FromTS:   *fromTS,
			Speed:    *speed,
			Intrabar: *intrabar,
		}, feedCh)
		if err != nil && ctx.Err() == nil {
			log.Printf("[replay] replay error: %v", err)
		}
	}()

	start := time.Now()
	for fc := range feedCh {
		c.OnTick(fc.Candle)
	}
	elapsed := time.Since(start)
	if rec != nil {
		if err := rec.Close(context.Background()); err != nil {
			log.Printf("[replay] %v", err)
		}
		log.Printf("[replay] recorded %d bars", rec.Written())
	}

	snap := c.Snapshot()
	sum := tracker.Summary()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          REPLAY COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Chart:             %-16s ║\n", c.Key())
	fmt.Printf("║  Bars:              %-16d ║\n", len(snap.Candles))
	fmt.Printf("║  Ticks:             %-16d ║\n", snap.Stats.Ticks)
	fmt.Printf("║  Committed:         %-16d ║\n", committed)
	fmt.Printf("║  Dropped:           %-16d ║\n", snap.Stats.Malformed+snap.Stats.Stale)
	fmt.Printf("║  Level alerts:      %-16d ║\n", alerts)
	fmt.Printf("║  p99 tick (ms):     %-16.4f ║\n", sum.P99Ms)
	fmt.Printf("║  Elapsed:           %-16s ║\n", elapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")

	if len(snap.Candles) == 0 {
		return
	}
	last := snap.Candles[len(snap.Candles)-1]
	fmt.Printf("\nLast bar %s close=%.4f\n", time.Unix(last.Time, 0).In(markethours.NY).Format("2006-01-02 15:04"), last.Close)
	for _, ser := range snap.Series {
		p, ok := ser.Last()
		if !ok || !p.Valid {
			fmt.Printf("  %-10s warming up\n", ser.Name)
			continue
		}
		fmt.Printf("  %-10s %.4f\n", ser.Name, p.Value)
	}
}
