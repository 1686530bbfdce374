// Package candlestore holds the ordered OHLCV history of one chart.
//
// The store is owned by a single chart event loop and does no locking.
// It never triggers indicator recomputation; callers do that explicitly.
package candlestore

import "kcu-companion/internal/model"

// AppendResult describes what Append did with a candle.
type AppendResult int

const (
	Appended AppendResult = iota // new bar pushed
	Replaced                     // same timestamp, last bar replaced
	Stale                        // older than the last bar, ignored
)

func (r AppendResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Store is a time-ordered sequence of bars for one symbol/timeframe.
type Store struct {
	candles []model.Candle
}

// New creates an empty store with room for capacity bars.
func New(capacity int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	return &Store{candles: make([]model.Candle, 0, capacity)}
}

// Append pushes c if it is newer than the last bar, replaces the last bar if
// the timestamps are equal, and ignores c if it is older. Feeds may reorder or
// duplicate bars across reconnects, so a stale bar is not an error.
func (s *Store) Append(c model.Candle) AppendResult {
	n := len(s.candles)
	if n == 0 || c.Time > s.candles[n-1].Time {
		s.candles = append(s.candles, c)
		return Appended
	}
	if c.Time == s.candles[n-1].Time {
		s.candles[n-1] = c
		return Replaced
	}
	return Stale
}

// BulkLoad replaces the whole history. The caller must pass bars sorted
// ascending by time; the store does not re-sort or validate them.
func (s *Store) BulkLoad(candles []model.Candle) {
	s.candles = append(s.candles[:0], candles...)
}

// LastTime returns the time of the most recent bar, or false if empty.
func (s *Store) LastTime() (int64, bool) {
	if len(s.candles) == 0 {
		return 0, false
	}
	return s.candles[len(s.candles)-1].Time, true
}

// Last returns the most recent bar, or false if empty.
func (s *Store) Last() (model.Candle, bool) {
	if len(s.candles) == 0 {
		return model.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Len returns the number of stored bars.
func (s *Store) Len() int { return len(s.candles) }

// At returns the bar at position i. It panics if i is out of range, like a
// slice index.
func (s *Store) At(i int) model.Candle { return s.candles[i] }

// View returns the backing slice without copying. Callers must not modify it
// or retain it past the next mutation.
func (s *Store) View() []model.Candle { return s.candles }

// Candles returns a copy of the stored bars.
func (s *Store) Candles() []model.Candle {
	cp := make([]model.Candle, len(s.candles))
	copy(cp, s.candles)
	return cp
}

// Reset drops all bars but keeps the allocated capacity.
func (s *Store) Reset() {
	s.candles = s.candles[:0]
}
