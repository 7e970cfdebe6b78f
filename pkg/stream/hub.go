package stream

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the console.
const (
	TypeReady               = "ready"
	TypeDecideRelayed       = "decide.relayed"
	TypeMetricsRelayed      = "metrics.relayed"
	TypeUpstreamUnavailable = "upstream.unavailable"
)

const defaultBuffer = 32

type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Relay describes one forwarded call. It has no body or header fields, so
// nothing a browser should not see can be streamed.
type Relay struct {
	Path      string `json:"path"`
	Status    int    `json:"status,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func NewEvent(eventType string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			raw = b
		}
	}
	return Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

// Subscription is one listener's view of the hub. C is closed by Close.
type Subscription struct {
	C <-chan Event

	hub  *Hub
	ch   chan Event
	once sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub fans relay events out to websocket listeners. A full listener misses
// events; Publish never blocks.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: map[*Subscription]struct{}{}}
}

func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, hub: h, ch: ch}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	close(sub.ch)
}

// Publish returns how many listeners received evt.
func (h *Hub) Publish(evt Event) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for sub := range h.subs {
		select {
		case sub.ch <- evt:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events skipped because a listener's buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
