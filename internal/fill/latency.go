package fill

import (
	"sort"
)

// latencyWindow tracks time-to-fill samples over a sliding window so the
// engine can report averages without unbounded growth.
type latencyWindow struct {
	samples []float64
	maxSize int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 1000
	}
	return &latencyWindow{samples: make([]float64, 0, size), maxSize: size}
}

// record adds a sample in milliseconds, evicting the oldest when full.
// Callers hold the engine lock.
func (w *latencyWindow) record(ms float64) {
	if len(w.samples) >= w.maxSize {
		w.samples = w.samples[1:]
	}
	w.samples = append(w.samples, ms)
}

func (w *latencyWindow) avg() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

func (w *latencyWindow) p95() float64 {
	n := len(w.samples)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, w.samples)
	sort.Float64s(sorted)
	return sorted[int(float64(n)*0.95)]
}
