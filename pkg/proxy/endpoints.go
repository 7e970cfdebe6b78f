package proxy

import (
	"errors"
	"io"
	"net/http"

	"paynow/pkg/httpx"
)

// Backend paths relayed by the console.
const (
	DecidePath  = "/payments/decide"
	MetricsPath = "/metrics"
)

// Decide relays a payment intent to the backend with the server-held
// credential attached. The body is passed through without validation.
func (f *Forwarder) Decide(w http.ResponseWriter, r *http.Request) {
	body, ok := f.readRequestBody(w, r)
	if !ok {
		return
	}
	rel, err := f.Forward(r.Context(), r, body, DecidePath, Options{InjectCredential: true})
	if err != nil {
		httpx.Error(w, http.StatusBadGateway, "backend unavailable")
		return
	}
	WriteRelay(w, rel)
}

// Metrics relays the backend counters. The browser's query string is not
// forwarded and the answer is never cacheable, failures included.
func (f *Forwarder) Metrics(w http.ResponseWriter, r *http.Request) {
	rel, err := f.Forward(r.Context(), r, nil, MetricsPath, Options{ForceNoStore: true})
	if err != nil {
		httpx.SetNoStore(w.Header())
		httpx.Error(w, http.StatusBadGateway, "backend unavailable")
		return
	}
	WriteRelay(w, rel)
}

func (f *Forwarder) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	reader := r.Body
	if f.MaxRequestBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, f.MaxRequestBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}
