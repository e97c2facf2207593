package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded ring of recent duration samples and computes
// percentiles over them. Used for the periodic p95 log line alongside the
// Prometheus histogram.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	filled  bool
}

// NewLatencyTracker creates a tracker holding up to capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 512
	}
	return &LatencyTracker{samples: make([]time.Duration, capacity)}
}

// Observe records a new duration, evicting the oldest once full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples[l.next] = d
	l.next++
	if l.next == len(l.samples) {
		l.next = 0
		l.filled = true
	}
}

// Percentile returns the p-th percentile (0-100) of recorded durations, or
// zero when nothing has been observed yet.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	sorted := l.snapshot()
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	index := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[index]
}

// Count returns the number of samples currently held.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.filled {
		return len(l.samples)
	}
	return l.next
}

func (l *LatencyTracker) snapshot() []time.Duration {
	if l.filled {
		return append([]time.Duration(nil), l.samples...)
	}
	return append([]time.Duration(nil), l.samples[:l.next]...)
}
