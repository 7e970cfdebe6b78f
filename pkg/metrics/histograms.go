package metrics

import (
	"sync"
	"time"
)

// latencyBounds are upper bucket bounds in seconds. The top bound sits above
// the default upstream timeout so a timed-out relay still lands in a bucket.
var latencyBounds = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

type HistogramBucket struct {
	Le    float64 `json:"le"`
	Count int64   `json:"count"`
}

type HistogramSnapshot struct {
	Name    string            `json:"name"`
	Buckets []HistogramBucket `json:"buckets"`
	Sum     float64           `json:"sum"`
	Count   int64             `json:"count"`
	P95     float64           `json:"p95"`
}

// Histogram keeps cumulative bucket counts, Prometheus style.
type Histogram struct {
	mu     sync.Mutex
	name   string
	counts []int64
	sum    float64
	total  int64
}

func NewHistogram(name string) *Histogram {
	return &Histogram{name: name, counts: make([]int64, len(latencyBounds))}
}

func (h *Histogram) Observe(d time.Duration) {
	sec := d.Seconds()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += sec
	h.total++
	for i, le := range latencyBounds {
		if sec <= le {
			h.counts[i]++
		}
	}
}

// Percentile returns the smallest bucket bound covering fraction p of the
// observations, or 0 when nothing was observed.
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.percentileLocked(p)
}

func (h *Histogram) percentileLocked(p float64) float64 {
	if h.total == 0 {
		return 0
	}
	target := int64(p * float64(h.total))
	for i, c := range h.counts {
		if c >= target {
			return latencyBounds[i]
		}
	}
	return latencyBounds[len(latencyBounds)-1]
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets := make([]HistogramBucket, len(latencyBounds))
	for i, le := range latencyBounds {
		buckets[i] = HistogramBucket{Le: le, Count: h.counts[i]}
	}
	return HistogramSnapshot{
		Name:    h.name,
		Buckets: buckets,
		Sum:     h.sum,
		Count:   h.total,
		P95:     h.percentileLocked(0.95),
	}
}

type HistogramRegistry struct {
	mu         sync.RWMutex
	histograms map[string]*Histogram
}

func NewHistogramRegistry() *HistogramRegistry {
	return &HistogramRegistry{histograms: map[string]*Histogram{}}
}

// Get returns the named histogram, creating it on first use.
func (r *HistogramRegistry) Get(name string) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	h = NewHistogram(name)
	r.histograms[name] = h
	return h
}

func (r *HistogramRegistry) ObserveDuration(name string, d time.Duration) {
	r.Get(name).Observe(d)
}

// Snapshots returns every histogram ordered by name.
func (r *HistogramRegistry) Snapshots() []HistogramSnapshot {
	r.mu.RLock()
	names := SortedKeys(r.histograms)
	hs := make([]*Histogram, 0, len(names))
	for _, n := range names {
		hs = append(hs, r.histograms[n])
	}
	r.mu.RUnlock()
	out := make([]HistogramSnapshot, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Snapshot())
	}
	return out
}
