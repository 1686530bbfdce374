// Package sqlite persists chart history (committed bars) and the last level
// snapshot per symbol.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"kcu-companion/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/companion.db"

	// OnCommit is called after each batch commit with its size and duration.
	OnCommit func(n int, d time.Duration)
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db       *sql.DB
	onCommit func(n int, d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, onCommit: cfg.OnCommit}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT    NOT NULL,
			tf     INTEGER NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL,
			PRIMARY KEY (symbol, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS level_snapshots (
			symbol     TEXT    PRIMARY KEY,
			data       TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

// Run reads committed bars from ch and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan model.FeedCandle) {
	batch := make([]model.FeedCandle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insertBatch(context.Background(), batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case fc, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, fc)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

var _ model.CandleWriter = (*Writer)(nil)

// WriteCandles upserts bars for one symbol/tf in a single transaction.
func (w *Writer) WriteCandles(ctx context.Context, symbol string, tf int, candles []model.Candle) error {
	batch := make([]model.FeedCandle, len(candles))
	for i, c := range candles {
		batch[i] = model.FeedCandle{Symbol: symbol, TF: tf, Candle: c}
	}
	return w.insertBatch(ctx, batch)
}

// insertBatch inserts a batch of bars in a single transaction.
func (w *Writer) insertBatch(ctx context.Context, batch []model.FeedCandle) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, fc := range batch {
		c := fc.Candle
		if !c.Finite() {
			continue
		}
		var vol sql.NullFloat64
		if c.HasVolume() {
			vol = sql.NullFloat64{Float64: c.Volume, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, fc.Symbol, fc.TF, c.Time, c.Open, c.High, c.Low, c.Close, vol); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if w.onCommit != nil {
		w.onCommit(len(batch), time.Since(start))
	}
	return nil
}

// LastTimestamp returns the last stored bar time for symbol/tf.
// Returns 0 if no bars exist.
func (w *Writer) LastTimestamp(ctx context.Context, symbol string, tf int) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND tf = ?`,
		symbol, tf,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Prune deletes bars older than before (epoch seconds) and returns how many
// were removed.
func (w *Writer) Prune(ctx context.Context, before int64) (int64, error) {
	res, err := w.db.ExecContext(ctx, `DELETE FROM candles WHERE ts < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune: %w", err)
	}
	return res.RowsAffected()
}

// SaveLevels stores the latest level snapshot for its symbol.
func (w *Writer) SaveLevels(ctx context.Context, snap model.LevelSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal levels: %w", err)
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO level_snapshots (symbol, data, updated_at) VALUES (?, ?, ?)`,
		snap.Symbol, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite save levels: %w", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
