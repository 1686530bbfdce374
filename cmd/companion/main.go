// cmd/companion runs the chart service: live bars from Redis, history and
// level archive in SQLite, render envelopes to WebSocket clients.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"kcu-companion/config"
	"kcu-companion/internal/companion"
	"kcu-companion/internal/gateway"
	"kcu-companion/internal/levels"
	"kcu-companion/internal/logger"
	"kcu-companion/internal/metrics"
	"kcu-companion/internal/model"
	"kcu-companion/internal/notification"
	redisstore "kcu-companion/internal/store/redis"
	sqlitestore "kcu-companion/internal/store/sqlite"
)

// levelArchive reads the archive through the reader connection and writes it
// through the single writer connection.
type levelArchive struct {
	w *sqlitestore.Writer
	r *sqlitestore.Reader
}

func (a levelArchive) SaveLevels(ctx context.Context, snap model.LevelSnapshot) error {
	return a.w.SaveLevels(ctx, snap)
}

func (a levelArchive) ReadLevels(ctx context.Context, symbol string) (*model.LevelSnapshot, error) {
	return a.r.ReadLevels(ctx, symbol)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[companion] config: %v", err)
	}
	lg := logger.Init("companion", logger.ParseLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		fileLog, closer, err := logger.InitFile("companion", logger.ParseLevel(cfg.LogLevel), cfg.LogFile)
		if err != nil {
			log.Fatalf("[companion] log file: %v", err)
		}
		defer closer.Close()
		lg = fileLog
	}
	log.Printf("[companion] symbols=%v tf=%ds indicators=%s", cfg.ParseSymbols(), cfg.TF, cfg.Indicators)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[companion] shutting down")
		cancel()
	}()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// Redis
	rdb, err := redisstore.Dial(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Fatalf("[companion] %v", err)
	}
	defer rdb.Close()
	health.SetRedisConnected(true)

	feed := redisstore.NewFeed(rdb, cfg.ParseSymbols(), cfg.TF)
	feed.OnReconnect = func(err error, wait time.Duration) {
		m.FeedReconnects.Inc()
		health.SetFeedConnected(false)
		log.Printf("[companion] feed lost (%v), resubscribing in %s", err, wait)
	}
	breaker := redisstore.NewCircuitBreaker(5, 30*time.Second)
	breaker.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[companion] level source breaker %s -> %s", from, to)
	}
	levelSrc := redisstore.NewLevelSource(rdb, breaker)
	levelSrc.OnReconnect = func(err error, wait time.Duration) {
		m.FeedReconnects.Inc()
	}

	opts := companion.Options{
		Symbols:       cfg.ParseSymbols(),
		TF:            cfg.TF,
		Specs:         cfg.ParseIndicators(),
		HistoryDays:   cfg.HistoryDays,
		VisibleBars:   cfg.VisibleBars,
		RegularSlots:  cfg.RegularSlots,
		GammaSlots:    cfg.GammaSlots,
		LevelMode:     levels.ParseMode(cfg.LevelMode),
		RetentionDays: cfg.RetentionDays,
		RetentionCron: cfg.RetentionCron,
		Feed:          feed,
		Levels:        levelSrc,
		Metrics:       m,
		Health:        health,
		Logger:        lg,
	}

	if cfg.LevelStylesPath != "" {
		styles, err := levels.LoadStyles(cfg.LevelStylesPath)
		if err != nil {
			log.Fatalf("[companion] %v", err)
		}
		opts.Styles = styles
	}

	// SQLite is optional: without it charts start empty and nothing persists.
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Printf("[companion] sqlite dir: %v", err)
	}
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{
		DBPath: cfg.SQLitePath,
		OnCommit: func(n int, d time.Duration) {
			m.SQLiteWriteDur.Observe(d.Seconds())
		},
	})
	if err != nil {
		log.Printf("[companion] sqlite disabled: %v", err)
		health.SetSQLite(false, false)
		writer = nil
	} else {
		defer writer.Close()
		reader, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[companion] %v", err)
		}
		defer reader.Close()
		health.SetSQLite(true, true)
		opts.History = reader
		opts.Sink = writer
		opts.Pruner = writer
		opts.Archive = levelArchive{w: writer, r: reader}
	}

	// Alerts
	backends := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	alerts := notification.NewAsync(backends, 64)
	alerts.OnDrop = func(a notification.Alert) {
		log.Printf("[companion] alert queue full, dropped %s", a.Title)
	}
	go alerts.Run(ctx)
	opts.Notifier = alerts

	hub := gateway.NewHub(clock.New())
	defer hub.Close()
	opts.Hub = hub

	svc, err := companion.New(opts)
	if err != nil {
		log.Fatalf("[companion] init failed: %v", err)
	}

	var sqlDB *sql.DB
	if writer != nil {
		sqlDB = writer.DB()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, m, health)
	metricsSrv.Start()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[companion] http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[companion] http server error: %v", err)
			cancel()
		}
	}()

	if err := svc.Run(ctx); err != nil {
		log.Printf("[companion] run: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	alerts.Wait()
	log.Println("[companion] stopped")
}
