package main

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"net"
	"net/http"
	"time"

	"paynow/pkg/config"
	"paynow/pkg/httpx"
	"paynow/pkg/metrics"
	"paynow/pkg/proxy"
	"paynow/pkg/ratelimit"
	"paynow/pkg/stream"
	"paynow/pkg/telemetry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

//go:embed static/index.html
var staticFS embed.FS

const pageCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; connect-src 'self'; frame-ancestors 'none'; base-uri 'none'"

type Server struct {
	Config         config.Config
	Forwarder      *proxy.Forwarder
	Metrics        *metrics.Registry
	Events         *stream.Hub
	Limiter        ratelimit.Limiter
	TrustedProxies []*net.IPNet
}

// newServer wires the proxy, counters, event hub and limiter. A nil
// redisClient keeps rate-limit windows in process memory.
func newServer(cfg config.Config, client *http.Client, redisClient *redis.Client) *Server {
	s := &Server{
		Config:         cfg,
		Metrics:        metrics.NewRegistry(),
		Events:         stream.NewHub(),
		TrustedProxies: ratelimit.ParseCIDRs(cfg.TrustedProxyCIDRs),
	}
	s.Forwarder = proxy.New(cfg, client)
	s.Forwarder.Stats = s.Metrics
	s.Forwarder.Events = s.Events
	if cfg.RateLimitEnabled {
		if redisClient != nil {
			s.Limiter = ratelimit.NewRedis(redisClient, cfg.RateLimitWindow)
		} else {
			s.Limiter = ratelimit.NewInMemory(cfg.RateLimitWindow)
		}
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("console"))

	r.Get("/", s.index)
	r.Get("/healthz", s.health)

	r.Route("/api", func(api chi.Router) {
		api.Use(httpx.CORSMiddleware(httpx.ParseOrigins(s.Config.CORSAllowedOrigins)))
		api.Use(httpx.SecurityHeadersMiddleware)
		limit := ratelimit.Middleware(ratelimit.MiddlewareOptions{
			Limiter:        s.Limiter,
			Limit:          s.Config.RateLimitPerMinute,
			TrustedProxies: s.TrustedProxies,
			OnLimited:      func(*http.Request) { s.Metrics.IncRateLimited() },
		})
		api.With(limit).Post("/decide", s.Forwarder.Decide)
		// Metrics answers, 429s included, must never be cached.
		api.With(noStore, limit).Get("/metrics", s.Forwarder.Metrics)
		api.With(limit).Get("/events", s.streamEvents)
	})

	r.Route("/internal", func(in chi.Router) {
		in.Use(httpx.SecurityHeadersMiddleware)
		in.Get("/metrics", s.Metrics.Handler())
		in.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"service":            "console",
		"stream_subscribers": s.Events.Subscribers(),
		"stream_dropped":     s.Events.Dropped(),
	})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "page unavailable")
		return
	}
	httpx.SetPageHeaders(w.Header(), pageCSP)
	_, _ = w.Write(page)
}

// streamEvents pushes relay activity to the browser. Events carry path,
// status and latency only.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.SetNoStore(w.Header())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if len(s.Config.WSAllowedOrigins) > 0 {
		opts.OriginPatterns = s.Config.WSAllowedOrigins
	}
	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer sub.Close()

	_ = wsjson.Write(ctx, conn, stream.NewEvent(stream.TypeReady, nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub.C:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.code = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// metricsMiddleware labels by route pattern so path parameters and query
// strings never create new series.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.Metrics.Observe(r.Method+" "+route, rec.code, time.Since(start))
	})
}
