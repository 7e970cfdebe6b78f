package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

// Request is one outbound HTTP call. Body is sent as-is.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Response carries the upstream answer with the body fully read.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// TransportError marks a failure where no usable HTTP response was received:
// DNS, refused connection, timeout, or a body cut off mid-read.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport failure: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err (or anything it wraps) is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Send performs a single HTTP request. A non-2xx status is not an error;
// callers decide what a status means.
func Send(ctx context.Context, client *http.Client, req Request) (Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return Response{}, err
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	return Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       respBody,
	}, nil
}

// StatusText returns the reason phrase of a response, falling back to the
// standard text when the upstream status line carried none.
func (r Response) StatusText() string {
	if len(r.Status) > 4 && r.Status[3] == ' ' {
		return r.Status[4:]
	}
	return http.StatusText(r.StatusCode)
}
