package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcu-companion/internal/model"
	sqlitestore "kcu-companion/internal/store/sqlite"
)

type memWriter struct {
	batches [][]model.Candle
	err     error
	closed  bool
}

func (m *memWriter) WriteCandles(_ context.Context, _ string, _ int, candles []model.Candle) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, append([]model.Candle(nil), candles...))
	return nil
}

func (m *memWriter) Close() error {
	m.closed = true
	return nil
}

type fixedCheckpoint struct {
	last int64
	err  error
}

func (f fixedCheckpoint) LastTimestamp(context.Context, string, int) (int64, error) {
	return f.last, f.err
}

func TestRecorder_Batches(t *testing.T) {
	ctx := context.Background()
	w := &memWriter{}
	r := NewRecorder(w, "SPY", 60, 2)

	for _, c := range bars(5) {
		require.NoError(t, r.Add(ctx, c))
	}
	assert.Len(t, w.batches, 2)
	assert.Equal(t, 4, r.Written())

	require.NoError(t, r.Close(ctx))
	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[2], 1)
	assert.Equal(t, 5, r.Written())
	assert.True(t, w.closed)
}

func TestRecorder_FailedWriteKeepsBars(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	w := &memWriter{err: boom}
	r := NewRecorder(w, "SPY", 60, 0)

	require.NoError(t, r.Add(ctx, bars(1)[0]))
	assert.ErrorIs(t, r.Flush(ctx), boom)
	assert.Zero(t, r.Written())

	w.err = nil
	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, 1, r.Written())
}

func TestResumeFrom(t *testing.T) {
	ctx := context.Background()

	from, err := ResumeFrom(ctx, fixedCheckpoint{last: 500}, "SPY", 60, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(500), from)

	from, err = ResumeFrom(ctx, fixedCheckpoint{}, "SPY", 60, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), from, "empty store keeps the requested start")

	boom := errors.New("locked")
	_, err = ResumeFrom(ctx, fixedCheckpoint{err: boom}, "SPY", 60, 0)
	assert.ErrorIs(t, err, boom)
}

// A second recorded run over the same source only writes bars the first
// run did not reach.
func TestRecordIntoSQLiteResumes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "record.db")
	all := bars(10)

	record := func(src []model.Candle) int {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
		require.NoError(t, err)
		from, err := ResumeFrom(ctx, w, "SPY", 60, 0)
		require.NoError(t, err)

		rec := NewRecorder(w, "SPY", 60, 3)
		for _, c := range src {
			if c.Time <= from {
				continue
			}
			require.NoError(t, rec.Add(ctx, c))
		}
		require.NoError(t, rec.Close(ctx))
		return rec.Written()
	}

	assert.Equal(t, 6, record(all[:6]))
	assert.Equal(t, 4, record(all), "bars already stored are skipped")

	reader, err := sqlitestore.NewReader(path)
	require.NoError(t, err)
	defer reader.Close()
	got, err := reader.ReadCandles(ctx, "SPY", 60, 0)
	require.NoError(t, err)
	assert.Equal(t, all, got)
}
