package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

const DefaultCapacity = 1000

// Sample is one recorded external call
type Sample struct {
	Path        string `json:"path"`
	DurationMs  int64  `json:"duration_ms"`
	TimestampMs int64  `json:"timestamp_ms"`
	StatusCode  int    `json:"status_code"`
	IsError     bool   `json:"is_error"`
}

// PathStats is the per-path aggregate
type PathStats struct {
	Count      int     `json:"count"`
	AvgMs      float64 `json:"avg_duration_ms"`
	P50Ms      int64   `json:"p50_ms"`
	P90Ms      int64   `json:"p90_ms"`
	P99Ms      int64   `json:"p99_ms"`
	ErrorCount int     `json:"error_count"`
}

// Store is a fixed-capacity ring buffer of call samples. Record is O(1);
// Aggregate sorts per-path durations, which is fine at the bounded size.
// Instances are dependency-injected, not global, so tests can run several
// side by side.
type Store struct {
	mu   sync.Mutex
	buf  []Sample
	next int
	size int
}

// NewStore creates a ring buffer with the given capacity (DefaultCapacity
// when <= 0).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{buf: make([]Sample, capacity)}
}

// Record appends a sample, evicting the oldest once full
func (s *Store) Record(sample Sample) {
	if sample.TimestampMs == 0 {
		sample.TimestampMs = time.Now().UnixMilli()
	}

	s.mu.Lock()
	s.buf[s.next] = sample
	s.next = (s.next + 1) % len(s.buf)
	if s.size < len(s.buf) {
		s.size++
	}
	s.mu.Unlock()
}

// Len reports the number of retained samples
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Aggregate groups retained samples by path
func (s *Store) Aggregate() map[string]PathStats {
	s.mu.Lock()
	samples := make([]Sample, s.size)
	if s.size < len(s.buf) {
		copy(samples, s.buf[:s.size])
	} else {
		copy(samples, s.buf[s.next:])
		copy(samples[len(s.buf)-s.next:], s.buf[:s.next])
	}
	s.mu.Unlock()

	durations := make(map[string][]int64)
	errCounts := make(map[string]int)
	for _, sample := range samples {
		durations[sample.Path] = append(durations[sample.Path], sample.DurationMs)
		if sample.IsError {
			errCounts[sample.Path]++
		}
	}

	out := make(map[string]PathStats, len(durations))
	for path, ds := range durations {
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })

		var sum int64
		for _, d := range ds {
			sum += d
		}

		out[path] = PathStats{
			Count:      len(ds),
			AvgMs:      float64(sum) / float64(len(ds)),
			P50Ms:      nearestRank(ds, 50),
			P90Ms:      nearestRank(ds, 90),
			P99Ms:      nearestRank(ds, 99),
			ErrorCount: errCounts[path],
		}
	}
	return out
}

// nearestRank returns the p-th percentile of sorted ascending values:
// index ceil(p/100*n)-1, clamped to [0, n-1].
func nearestRank(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}
