// Package latency tracks tick processing latency percentiles.
package latency

import (
	"math"
	"sort"
	"sync"
	"time"
)

const defaultCapacity = 10000

// Tracker records latency samples in a circular buffer and computes
// percentiles (p50, p95, p99). Thread-safe: charts record from their event
// loops while the HTTP API reads.
type Tracker struct {
	mu      sync.Mutex
	samples []float64 // circular buffer of latency values (ms)
	pos     int
	count   int
	total   uint64
	max     float64
}

// Summary is a point-in-time view of the tracker.
type Summary struct {
	Count uint64  `json:"count"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	MaxMs float64 `json:"max_ms"`
}

// NewTracker creates a tracker that holds the last `capacity` samples.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Tracker{samples: make([]float64, capacity)}
}

// Record adds a latency sample in milliseconds.
func (t *Tracker) Record(ms float64) {
	t.mu.Lock()
	t.samples[t.pos] = ms
	t.pos = (t.pos + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}
	t.total++
	if ms > t.max {
		t.max = ms
	}
	t.mu.Unlock()
}

// ObserveTickLatency records d. It lets a Tracker serve as a dispatcher
// latency observer.
func (t *Tracker) ObserveTickLatency(d time.Duration) {
	t.Record(float64(d) / float64(time.Millisecond))
}

// Percentiles returns p50, p95, p99 latency in milliseconds.
// Returns (0, 0, 0) if no samples have been recorded.
func (t *Tracker) Percentiles() (p50, p95, p99 float64) {
	sorted := t.sorted()
	if len(sorted) == 0 {
		return 0, 0, 0
	}
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// Summary returns the sample count, percentiles and lifetime max.
func (t *Tracker) Summary() Summary {
	p50, p95, p99 := t.Percentiles()
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summary{Count: t.total, P50Ms: p50, P95Ms: p95, P99Ms: p99, MaxMs: t.max}
}

// Count returns the number of samples held (up to capacity).
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *Tracker) sorted() []float64 {
	t.mu.Lock()
	n := t.count
	out := make([]float64, n)
	if n == len(t.samples) {
		// Buffer is full; copy from pos (oldest) to end, then start to pos
		copy(out, t.samples[t.pos:])
		copy(out[n-t.pos:], t.samples[:t.pos])
	} else {
		copy(out, t.samples[:n])
	}
	t.mu.Unlock()

	sort.Float64s(out)
	return out
}

// percentile computes the p-th percentile (0.0–1.0) of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
