package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker records event-to-fan-out latency samples in a circular
// buffer and computes percentiles. Thread-safe.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64 // milliseconds
	pos     int
	count   int
}

// LatencySummary is the percentile view exposed on /api/stats.
type LatencySummary struct {
	Samples int     `json:"samples"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
	P99Ms   float64 `json:"p99_ms"`
}

// NewLatencyTracker creates a tracker that holds the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{samples: make([]float64, capacity)}
}

// Record adds one sample. Negative durations (clock skew) are ignored.
func (lt *LatencyTracker) Record(d time.Duration) {
	if d < 0 {
		return
	}
	ms := float64(d.Microseconds()) / 1000.0
	lt.mu.Lock()
	lt.samples[lt.pos] = ms
	lt.pos = (lt.pos + 1) % len(lt.samples)
	if lt.count < len(lt.samples) {
		lt.count++
	}
	lt.mu.Unlock()
}

// Summary returns p50, p95 and p99 in milliseconds; zeros when empty.
func (lt *LatencyTracker) Summary() LatencySummary {
	lt.mu.Lock()
	n := lt.count
	if n == 0 {
		lt.mu.Unlock()
		return LatencySummary{}
	}
	sorted := make([]float64, n)
	copy(sorted, lt.samples[:n]) // order is irrelevant before sorting
	lt.mu.Unlock()

	sort.Float64s(sorted)
	return LatencySummary{
		Samples: n,
		P50Ms:   percentile(sorted, 0.50),
		P95Ms:   percentile(sorted, 0.95),
		P99Ms:   percentile(sorted, 0.99),
	}
}

// percentile computes the p-th percentile (0.0–1.0) of a sorted slice with
// linear interpolation between ranks.
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
