package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paynow/pkg/config"
	"paynow/pkg/httpx"
	"paynow/pkg/metrics"
	"paynow/pkg/stream"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const testAPIKey = "sk_test_never_shown"

func testConfig(backend string) config.Config {
	return config.Config{
		BackendBase:         backend,
		APIKey:              testAPIKey,
		Addr:                "127.0.0.1:0",
		UpstreamTimeout:     2 * time.Second,
		MaxRequestBodyBytes: 1 << 20,
		CORSAllowedOrigins:  "https://console.example.com",
		RateLimitEnabled:    true,
		RateLimitPerMinute:  100,
		RateLimitWindow:     time.Minute,
	}
}

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/decide":
			if r.Header.Get("X-API-Key") != testAPIKey {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"missing key"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"decision":"block","reasons":["insufficient_funds"],"agentTrace":[],"requestId":"r2"}`))
		case "/metrics":
			w.Header().Set("Cache-Control", "max-age=600")
			_, _ = w.Write([]byte(`{"total_requests":1,"p95_latency_ms":3.25,"decision_allow":0,"decision_review":0,"decision_block":1}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s := newServer(cfg, &http.Client{Timeout: 2 * time.Second}, nil)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func assertNoKey(t *testing.T, resp *http.Response, body []byte) {
	t.Helper()
	if strings.Contains(string(body), testAPIKey) {
		t.Fatalf("api key leaked in body: %s", body)
	}
	for name, vals := range resp.Header {
		for _, v := range vals {
			if strings.Contains(v, testAPIKey) || strings.EqualFold(name, "X-API-Key") {
				t.Fatalf("api key leaked in header %s", name)
			}
		}
	}
}

func TestDecideEndToEnd(t *testing.T) {
	backend := fakeBackend(t)
	_, ts := newTestServer(t, testConfig(backend.URL))

	resp, err := http.Post(ts.URL+"/api/decide", "application/json", strings.NewReader(`{"customerId":"c_small","payeeId":"safe_vendor","amount":400,"currency":"USD","idempotencyKey":"k"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if string(body) != `{"decision":"block","reasons":["insufficient_funds"],"agentTrace":[],"requestId":"r2"}` {
		t.Fatalf("body not relayed verbatim: %s", body)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers on api routes")
	}
	assertNoKey(t, resp, body)
}

func TestMetricsEndToEndIsNoStore(t *testing.T) {
	backend := fakeBackend(t)
	_, ts := newTestServer(t, testConfig(backend.URL))

	resp, err := http.Get(ts.URL + "/api/metrics?ts=1712345678901")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); got != httpx.NoStore {
		t.Fatalf("expected forced no-store, got %q", got)
	}
	if !strings.Contains(string(body), `"p95_latency_ms":3.25`) {
		t.Fatalf("unexpected metrics body %s", body)
	}
	assertNoKey(t, resp, body)
}

func TestBackendDownIs502(t *testing.T) {
	backend := fakeBackend(t)
	url := backend.URL
	backend.Close()
	_, ts := newTestServer(t, testConfig(url))

	resp, err := http.Post(ts.URL+"/api/decide", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	assertNoKey(t, resp, body)

	resp, err = http.Get(ts.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway || resp.Header.Get("Cache-Control") != httpx.NoStore {
		t.Fatalf("expected no-store 502, got %d %q", resp.StatusCode, resp.Header.Get("Cache-Control"))
	}
}

func TestIndexAndHealth(t *testing.T) {
	_, ts := newTestServer(t, testConfig("http://127.0.0.1:1"))

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected index response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "/api/decide") || strings.Contains(string(body), testAPIKey) {
		t.Fatal("unexpected page content")
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || health["status"] != "ok" || health["stream_subscribers"] != float64(0) {
		t.Fatalf("unexpected health %v %v", health, err)
	}
}

func TestInternalMetricsCountRoutes(t *testing.T) {
	backend := fakeBackend(t)
	_, ts := newTestServer(t, testConfig(backend.URL))

	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/api/metrics?ts=" + time.Now().Format("150405.000"))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
	}
	resp, err := http.Get(ts.URL + "/internal/metrics")
	if err != nil {
		t.Fatalf("get internal: %v", err)
	}
	defer resp.Body.Close()
	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Routes["GET /api/metrics"].Count != 2 {
		t.Fatalf("expected route pattern counted twice, got %+v", snap.Routes)
	}
	if snap.Upstream["/metrics|relayed"] != 2 {
		t.Fatalf("expected upstream relays counted, got %+v", snap.Upstream)
	}

	prom, err := http.Get(ts.URL + "/internal/metrics/prometheus")
	if err != nil {
		t.Fatalf("get prometheus: %v", err)
	}
	defer prom.Body.Close()
	text, _ := io.ReadAll(prom.Body)
	if !strings.Contains(string(text), `paynow_console_requests_total{route="GET /api/metrics"} 2`) {
		t.Fatalf("unexpected prometheus output:\n%s", text)
	}
}

func TestRateLimitOnAPI(t *testing.T) {
	backend := fakeBackend(t)
	cfg := testConfig(backend.URL)
	cfg.RateLimitPerMinute = 1
	s, ts := newTestServer(t, cfg)

	first, err := http.Get(ts.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.Body.Close()
	second, err := http.Get(ts.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests || second.Header.Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", second.StatusCode)
	}
	if got := second.Header.Get("Cache-Control"); got != httpx.NoStore {
		t.Fatalf("expected limited metrics to carry %q, got %q", httpx.NoStore, got)
	}
	if s.Metrics.Snapshot().RateLimited != 1 {
		t.Fatal("expected rate limited counter")
	}

	health, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatal("health must not be rate limited")
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, testConfig("http://127.0.0.1:1"))

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/decide", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://console.example.com" {
		t.Fatalf("unexpected preflight %d %v", resp.StatusCode, resp.Header)
	}

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	backend := fakeBackend(t)
	s, ts := newTestServer(t, testConfig(backend.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var ready stream.Event
	if err := wsjson.Read(ctx, conn, &ready); err != nil || ready.Type != stream.TypeReady {
		t.Fatalf("expected ready event, got %+v %v", ready, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Events.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/decide", "application/json", strings.NewReader(`{"idempotencyKey":"k"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if strings.Contains(string(raw), testAPIKey) || strings.Contains(string(raw), "idempotencyKey") {
		t.Fatalf("event carries sensitive data: %s", raw)
	}
	var evt stream.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != stream.TypeDecideRelayed {
		t.Fatalf("expected decide.relayed, got %s", evt.Type)
	}
	var relay stream.Relay
	if err := json.Unmarshal(evt.Data, &relay); err != nil || relay.Path != "/payments/decide" || relay.Status != http.StatusOK {
		t.Fatalf("unexpected relay %+v %v", relay, err)
	}
}
