package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds the console's own operational counters. It says nothing
// about payment decisions; those numbers live in the backend.
type Registry struct {
	mu          sync.RWMutex
	routes      map[string]*RouteStat
	upstream    map[string]int64
	rateLimited int64
	Histograms  *HistogramRegistry
}

type RouteStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

// Upstream outcomes recorded by the forwarder.
const (
	OutcomeRelayed     = "relayed"
	OutcomeUnavailable = "unavailable"
)

type Snapshot struct {
	GeneratedAt string               `json:"generated_at"`
	Routes      map[string]RouteStat `json:"routes"`
	Upstream    map[string]int64     `json:"upstream"`
	RateLimited int64                `json:"rate_limited_total"`
	Histograms  []HistogramSnapshot  `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		routes:     map[string]*RouteStat{},
		upstream:   map[string]int64{},
		Histograms: NewHistogramRegistry(),
	}
}

// Observe records one served request. Statuses >= 400 count as errors.
func (r *Registry) Observe(route string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	stat, ok := r.routes[route]
	if !ok {
		stat = &RouteStat{}
		r.routes[route] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
	r.mu.Unlock()
	r.Histograms.ObserveDuration(route, d)
}

// IncUpstream counts one outbound call to target with the given outcome.
func (r *Registry) IncUpstream(target, outcome string) {
	target = strings.TrimSpace(target)
	if target == "" || outcome == "" {
		return
	}
	r.mu.Lock()
	r.upstream[target+"|"+outcome]++
	r.mu.Unlock()
}

func (r *Registry) IncRateLimited() {
	r.mu.Lock()
	r.rateLimited++
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	out := Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Routes:      make(map[string]RouteStat, len(r.routes)),
		Upstream:    make(map[string]int64, len(r.upstream)),
		RateLimited: r.rateLimited,
	}
	for k, v := range r.routes {
		out.Routes[k] = *v
	}
	for k, v := range r.upstream {
		out.Upstream[k] = v
	}
	r.mu.RUnlock()
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Header().Set("Cache-Control", "no-store")
		b := &strings.Builder{}
		b.WriteString("# HELP paynow_console_requests_total requests served by route\n")
		b.WriteString("# TYPE paynow_console_requests_total counter\n")
		for _, route := range SortedKeys(snap.Routes) {
			fmt.Fprintf(b, "paynow_console_requests_total{route=%q} %d\n", route, snap.Routes[route].Count)
		}
		b.WriteString("# HELP paynow_console_request_errors_total responses with status >= 400 by route\n")
		b.WriteString("# TYPE paynow_console_request_errors_total counter\n")
		for _, route := range SortedKeys(snap.Routes) {
			fmt.Fprintf(b, "paynow_console_request_errors_total{route=%q} %d\n", route, snap.Routes[route].ErrorCount)
		}
		b.WriteString("# HELP paynow_console_upstream_total backend calls by target and outcome\n")
		b.WriteString("# TYPE paynow_console_upstream_total counter\n")
		for _, key := range SortedKeys(snap.Upstream) {
			target, outcome, _ := strings.Cut(key, "|")
			fmt.Fprintf(b, "paynow_console_upstream_total{target=%q,outcome=%q} %d\n", target, outcome, snap.Upstream[key])
		}
		b.WriteString("# HELP paynow_console_rate_limited_total requests rejected by the rate limiter\n")
		b.WriteString("# TYPE paynow_console_rate_limited_total counter\n")
		fmt.Fprintf(b, "paynow_console_rate_limited_total %d\n", snap.RateLimited)
		if len(snap.Histograms) > 0 {
			b.WriteString("# HELP paynow_console_latency_seconds request latency by route\n")
			b.WriteString("# TYPE paynow_console_latency_seconds histogram\n")
		}
		for _, h := range snap.Histograms {
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "paynow_console_latency_seconds_bucket{route=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "paynow_console_latency_seconds_bucket{route=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "paynow_console_latency_seconds_sum{route=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "paynow_console_latency_seconds_count{route=%q} %d\n", h.Name, h.Count)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
