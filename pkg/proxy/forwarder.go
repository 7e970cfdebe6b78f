package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"paynow/pkg/config"
	"paynow/pkg/httpx"
	"paynow/pkg/metrics"
	"paynow/pkg/stream"
	"paynow/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// APIKeyHeader carries the server-held credential to the backend.
const APIKeyHeader = "X-API-Key"

// ErrUpstreamUnavailable means the backend could not be reached at all.
// Callers must answer with an explicit error, never an empty success.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Options are the per-call forwarding rules.
type Options struct {
	InjectCredential bool
	ForceNoStore     bool
}

// Relay is the backend answer as it will be written to the browser.
// Body is opaque and is never decoded on the way through.
type Relay struct {
	StatusCode  int
	ContentType string
	Body        []byte
	NoStore     bool
}

// Forwarder relays browser calls to the decision backend.
type Forwarder struct {
	BackendBase         string
	APIKey              string
	Client              *http.Client
	UpstreamTimeout     time.Duration
	MaxRequestBodyBytes int64
	Stats               *metrics.Registry
	Events              *stream.Hub

	now func() time.Time
}

func New(cfg config.Config, client *http.Client) *Forwarder {
	if client == nil {
		client = &http.Client{Timeout: cfg.UpstreamTimeout}
	}
	return &Forwarder{
		BackendBase:         strings.TrimRight(cfg.BackendBase, "/"),
		APIKey:              cfg.APIKey,
		Client:              client,
		UpstreamTimeout:     cfg.UpstreamTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		now:                 time.Now,
	}
}

// Forward sends body to BackendBase+targetPath using the inbound method.
// Only Content-Type and Accept are taken from the inbound request; anything
// else the browser sent, including a forged credential header, is dropped.
func (f *Forwarder) Forward(ctx context.Context, inbound *http.Request, body []byte, targetPath string, opts Options) (Relay, error) {
	header := http.Header{}
	if ct := inbound.Header.Get("Content-Type"); ct != "" && len(body) > 0 {
		header.Set("Content-Type", ct)
	}
	if accept := inbound.Header.Get("Accept"); accept != "" {
		header.Set("Accept", accept)
	}
	if opts.InjectCredential && f.APIKey != "" {
		header.Set(APIKeyHeader, f.APIKey)
	}
	if opts.ForceNoStore {
		header.Set("Cache-Control", "no-cache")
		header.Set("Pragma", "no-cache")
	}

	if f.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.UpstreamTimeout)
		defer cancel()
	}

	ctx, span := telemetry.StartSpan(ctx, "proxy.forward",
		attribute.String("http.request.method", inbound.Method),
		attribute.String("paynow.target", targetPath),
	)
	defer span.End()

	start := f.clock()
	resp, err := httpx.Send(ctx, f.Client, httpx.Request{
		Method: inbound.Method,
		URL:    f.BackendBase + targetPath,
		Body:   body,
		Header: header,
	})
	elapsed := f.clock().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream unavailable")
		f.record(targetPath, 0, elapsed, err)
		log.Printf("console: %s %s upstream unavailable after %dms: %v", inbound.Method, targetPath, elapsed.Milliseconds(), err)
		return Relay{}, fmt.Errorf("%w: %s %s: %w", ErrUpstreamUnavailable, inbound.Method, targetPath, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	f.record(targetPath, resp.StatusCode, elapsed, nil)
	log.Printf("console: %s %s -> %d in %dms", inbound.Method, targetPath, resp.StatusCode, elapsed.Milliseconds())

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	return Relay{
		StatusCode:  resp.StatusCode,
		ContentType: ct,
		Body:        resp.Body,
		NoStore:     opts.ForceNoStore,
	}, nil
}

// WriteRelay writes rel verbatim. No upstream header other than
// Content-Type is copied.
func WriteRelay(w http.ResponseWriter, rel Relay) {
	ct := rel.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	if rel.NoStore {
		httpx.SetNoStore(w.Header())
	}
	w.WriteHeader(rel.StatusCode)
	_, _ = w.Write(rel.Body)
}

func (f *Forwarder) record(targetPath string, status int, elapsed time.Duration, err error) {
	relay := stream.Relay{Path: targetPath, Status: status, LatencyMS: elapsed.Milliseconds()}
	if err != nil {
		if f.Stats != nil {
			f.Stats.IncUpstream(targetPath, metrics.OutcomeUnavailable)
		}
		f.Events.Publish(stream.NewEvent(stream.TypeUpstreamUnavailable, relay))
		return
	}
	if f.Stats != nil {
		f.Stats.IncUpstream(targetPath, metrics.OutcomeRelayed)
	}
	eventType := stream.TypeDecideRelayed
	if targetPath == MetricsPath {
		eventType = stream.TypeMetricsRelayed
	}
	f.Events.Publish(stream.NewEvent(eventType, relay))
}

func (f *Forwarder) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}
