package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendReturnsStatusHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		if got := r.Header.Get("X-Test-Header"); got != "abc" {
			t.Errorf("expected header abc got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"k":"v"}` {
			t.Errorf("unexpected body %s", body)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`short and stout`))
	}))
	defer srv.Close()

	resp, err := Send(context.Background(), srv.Client(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   []byte(`{"k":"v"}`),
		Header: http.Header{"X-Test-Header": []string{"abc"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("expected 418 got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if string(resp.Body) != "short and stout" {
		t.Fatalf("unexpected body %q", resp.Body)
	}
	if resp.StatusText() != "I'm a teapot" {
		t.Fatalf("unexpected status text %q", resp.StatusText())
	}
}

func TestSendDoesNotTreatStatusAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := Send(context.Background(), srv.Client(), Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("expected no error for 503, got %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

type failingReadCloser struct{}

func (failingReadCloser) Read(p []byte) (int, error) { return 0, errors.New("read failed") }
func (failingReadCloser) Close() error               { return nil }

func TestSendTransportErrors(t *testing.T) {
	t.Run("dial failure", func(t *testing.T) {
		client := &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				return nil, errors.New("dial failed")
			}),
		}
		_, err := Send(context.Background(), client, Request{Method: http.MethodGet, URL: "http://example.com"})
		if !IsTransport(err) || !strings.Contains(err.Error(), "dial failed") {
			t.Fatalf("expected transport failure, got %v", err)
		}
	})

	t.Run("body read failure", func(t *testing.T) {
		client := &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				return &http.Response{StatusCode: http.StatusOK, Body: failingReadCloser{}, Header: http.Header{}}, nil
			}),
		}
		_, err := Send(context.Background(), client, Request{Method: http.MethodGet, URL: "http://example.com"})
		if !IsTransport(err) {
			t.Fatalf("expected transport failure on read error, got %v", err)
		}
	})

	t.Run("invalid method is not transport", func(t *testing.T) {
		_, err := Send(context.Background(), nil, Request{Method: "bad method", URL: "http://example.com"})
		if err == nil || IsTransport(err) {
			t.Fatalf("expected request build error, got %v", err)
		}
	})
}

func TestSendPreservesExplicitContentType(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if got := req.Header.Get("Content-Type"); got != "application/x-ndjson" {
				t.Errorf("content type overwritten: %q", got)
			}
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}, nil
		}),
	}
	_, err := Send(context.Background(), client, Request{
		Method: http.MethodPost,
		URL:    "http://example.com",
		Body:   []byte("{}\n"),
		Header: http.Header{"Content-Type": []string{"application/x-ndjson"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestStatusTextFallback(t *testing.T) {
	if got := (Response{StatusCode: 404}).StatusText(); got != "Not Found" {
		t.Fatalf("expected fallback text, got %q", got)
	}
	if got := (Response{StatusCode: 500, Status: "500 Upstream Exploded"}).StatusText(); got != "Upstream Exploded" {
		t.Fatalf("expected upstream text, got %q", got)
	}
}
