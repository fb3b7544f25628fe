package monitor

import (
	"sync"
	"time"
)

// DefaultWindowSize is the per-metric history capacity.
const DefaultWindowSize = 10

// Sample is a single observation of a metric.
type Sample struct {
	Value     float64
	Timestamp time.Time
}

// window is a fixed-capacity ring buffer. start indexes the oldest sample.
type window struct {
	samples []Sample
	start   int
}

func (w *window) push(s Sample, capacity int) {
	if len(w.samples) < capacity {
		w.samples = append(w.samples, s)
		return
	}
	w.samples[w.start] = s
	w.start = (w.start + 1) % capacity
}

func (w *window) ordered() []Sample {
	out := make([]Sample, 0, len(w.samples))
	out = append(out, w.samples[w.start:]...)
	out = append(out, w.samples[:w.start]...)
	return out
}

// History keeps the most recent samples for every observed metric.
// Metrics are created lazily and live for the lifetime of the History.
type History struct {
	mu       sync.Mutex
	capacity int
	windows  map[string]*window
}

// NewHistory creates a History holding at most capacity samples per metric.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	return &History{
		capacity: capacity,
		windows:  make(map[string]*window),
	}
}

// Capacity returns the per-metric window size.
func (h *History) Capacity() int {
	return h.capacity
}

// Record appends a sample, evicting the oldest one when the window is full.
// A zero timestamp is replaced with the current time.
func (h *History) Record(metric string, value float64, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.windows[metric]
	if !ok {
		w = &window{samples: make([]Sample, 0, h.capacity)}
		h.windows[metric] = w
	}
	w.push(Sample{Value: value, Timestamp: ts}, h.capacity)
}

// Samples returns the window for metric in chronological order.
func (h *History) Samples(metric string) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.windows[metric]
	if !ok {
		return []Sample{}
	}
	return w.ordered()
}

// Values returns the window values for metric in chronological order.
// Unknown metrics yield an empty slice.
func (h *History) Values(metric string) []float64 {
	samples := h.Samples(metric)
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	return values
}

// Len returns the number of samples held for metric.
func (h *History) Len(metric string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.windows[metric]; ok {
		return len(w.samples)
	}
	return 0
}
