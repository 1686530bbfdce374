package replay

import (
	"context"
	"fmt"

	"kcu-companion/internal/model"
)

const defaultRecordBatch = 500

// Checkpoint reports the last bar already stored for a chart.
// *sqlite.Writer satisfies it.
type Checkpoint interface {
	LastTimestamp(ctx context.Context, symbol string, tf int) (int64, error)
}

// ResumeFrom returns the FromTS that skips bars cp already holds. It never
// goes below fromTS.
func ResumeFrom(ctx context.Context, cp Checkpoint, symbol string, tf int, fromTS int64) (int64, error) {
	last, err := cp.LastTimestamp(ctx, symbol, tf)
	if err != nil {
		return 0, fmt.Errorf("replay checkpoint %s: %w", model.ChartKey(symbol, tf), err)
	}
	if last > fromTS {
		return last, nil
	}
	return fromTS, nil
}

// Recorder batches committed bars of one chart into a CandleWriter.
type Recorder struct {
	w       model.CandleWriter
	symbol  string
	tf      int
	batch   int
	pending []model.Candle
	written int
}

// NewRecorder creates a Recorder. batch <= 0 uses 500.
func NewRecorder(w model.CandleWriter, symbol string, tf, batch int) *Recorder {
	if batch <= 0 {
		batch = defaultRecordBatch
	}
	return &Recorder{w: w, symbol: symbol, tf: tf, batch: batch}
}

// Add queues c and writes the batch once it is full.
func (r *Recorder) Add(ctx context.Context, c model.Candle) error {
	r.pending = append(r.pending, c)
	if len(r.pending) < r.batch {
		return nil
	}
	return r.Flush(ctx)
}

// Flush writes whatever is queued. Bars stay queued if the write fails.
func (r *Recorder) Flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.w.WriteCandles(ctx, r.symbol, r.tf, r.pending); err != nil {
		return fmt.Errorf("record %s: %w", model.ChartKey(r.symbol, r.tf), err)
	}
	r.written += len(r.pending)
	r.pending = r.pending[:0]
	return nil
}

// Written returns how many bars have been stored.
func (r *Recorder) Written() int { return r.written }

// Close flushes and closes the writer.
func (r *Recorder) Close(ctx context.Context) error {
	ferr := r.Flush(ctx)
	cerr := r.w.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}
