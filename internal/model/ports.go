package model

import "context"

// ── Collaborator Port Interfaces ──
// These keep the chart core independent of concrete storage and transport
// (SQLite, Redis). Each implementation satisfies one or more of them.

// CandleReader loads historical bars for a bulk load.
type CandleReader interface {
	// ReadCandles returns bars for symbol/tf with time > afterTS, ascending.
	ReadCandles(ctx context.Context, symbol string, tf int, afterTS int64) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// CandleWriter persists committed bars.
type CandleWriter interface {
	// WriteCandles upserts a batch of bars for symbol/tf.
	WriteCandles(ctx context.Context, symbol string, tf int, candles []Candle) error

	// Close releases underlying resources.
	Close() error
}

// LevelSource supplies wholesale level snapshots.
type LevelSource interface {
	// Latest returns the most recent snapshot for symbol.
	// Returns nil, nil if none has been published.
	Latest(ctx context.Context, symbol string) (*LevelSnapshot, error)

	// Subscribe delivers every new snapshot for the symbols until ctx is done.
	Subscribe(ctx context.Context, symbols []string, out chan<- LevelSnapshot) error
}

// CandleFeed streams live bars (in-progress updates and new bars).
type CandleFeed interface {
	// Run delivers bars for the charts until ctx is cancelled.
	Run(ctx context.Context, out chan<- FeedCandle) error
}

// FeedCandle is a live bar tagged with the chart it belongs to.
type FeedCandle struct {
	Symbol string `json:"symbol"`
	TF     int    `json:"tf"`
	Candle
}
