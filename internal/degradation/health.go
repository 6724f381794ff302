// Package degradation tracks connection health over a rolling window,
// derives the current operating mode from it, and queues outbound
// messages while the backend is unreachable.
package degradation

import (
	"sync"
	"time"
)

// Quality is the rolling-window assessment of the connection.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityCritical  Quality = "critical"
)

const (
	maxLatencySamples = 50
	errorWindow       = 60 * time.Second
)

// HealthTracker keeps a bounded window of recent request outcomes.
// Latency samples are capped by count; errors age out by time, so one bad
// minute does not poison the assessment forever.
type HealthTracker struct {
	mu        sync.Mutex
	latencies []time.Duration
	successes []time.Time
	errors    []time.Time
	now       func() time.Time
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{now: time.Now}
}

// RecordSuccess records a completed request and its round-trip latency.
func (h *HealthTracker) RecordSuccess(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latencies = append(h.latencies, latency)
	if len(h.latencies) > maxLatencySamples {
		h.latencies = h.latencies[len(h.latencies)-maxLatencySamples:]
	}
	h.successes = append(h.successes, h.now())
	h.prune()
}

// RecordError records a failed request.
func (h *HealthTracker) RecordError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, h.now())
	h.prune()
}

func (h *HealthTracker) prune() {
	cutoff := h.now().Add(-errorWindow)
	h.successes = pruneOlder(h.successes, cutoff)
	h.errors = pruneOlder(h.errors, cutoff)
}

func pruneOlder(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// SuccessRate returns the fraction of requests in the window that
// succeeded. An empty window counts as healthy.
func (h *HealthTracker) SuccessRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune()

	total := len(h.successes) + len(h.errors)
	if total == 0 {
		return 1.0
	}
	return float64(len(h.successes)) / float64(total)
}

// ErrorCount returns the number of failures still inside the window.
func (h *HealthTracker) ErrorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune()
	return len(h.errors)
}

// AverageLatency returns the mean of the recorded latency samples.
func (h *HealthTracker) AverageLatency() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range h.latencies {
		sum += l
	}
	return sum / time.Duration(len(h.latencies))
}

// Assess derives the connection quality from the current window.
func (h *HealthTracker) Assess() Quality {
	rate := h.SuccessRate()
	avg := h.AverageLatency()

	switch {
	case rate < 0.5 || avg > 2000*time.Millisecond:
		return QualityCritical
	case rate < 0.8 || avg > 1000*time.Millisecond:
		return QualityPoor
	case rate < 0.95 || avg > 500*time.Millisecond:
		return QualityGood
	default:
		return QualityExcellent
	}
}

// Reset clears the window, used after a reconnect so stale samples from
// the previous connection do not drag the fresh one down.
func (h *HealthTracker) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latencies = nil
	h.successes = nil
	h.errors = nil
}
