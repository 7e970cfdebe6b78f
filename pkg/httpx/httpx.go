package httpx

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// NoStore is the directive set on responses that must never be served from
// any cache between the backend and the browser.
const NoStore = "no-store, no-cache, must-revalidate, max-age=0"

const apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"

var baseSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
}

// SecurityHeadersMiddleware hardens JSON API responses. Cache-Control is a
// default; handlers may replace it.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		setBase(h)
		h.Set("Content-Security-Policy", apiCSP)
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// SetPageHeaders prepares an HTML response governed by csp. Pages are
// revalidated on every load so a redeploy is picked up at once.
func SetPageHeaders(h http.Header, csp string) {
	setBase(h)
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Security-Policy", csp)
	h.Set("Cache-Control", "no-cache")
}

func setBase(h http.Header) {
	for _, kv := range baseSecurityHeaders {
		h.Set(kv[0], kv[1])
	}
}

// SetNoStore forces the full no-store directive plus the HTTP/1.0 equivalents.
func SetNoStore(h http.Header) {
	h.Set("Cache-Control", NoStore)
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// OriginAllowlist is a parsed comma-separated origin list. "*" admits any
// origin.
type OriginAllowlist struct {
	wildcard bool
	origins  map[string]struct{}
}

func ParseOrigins(raw string) OriginAllowlist {
	a := OriginAllowlist{origins: map[string]struct{}{}}
	for _, part := range strings.Split(raw, ",") {
		switch origin := strings.TrimSpace(part); origin {
		case "":
		case "*":
			a.wildcard = true
		default:
			a.origins[origin] = struct{}{}
		}
	}
	return a
}

func (a OriginAllowlist) Allows(origin string) bool {
	if a.wildcard {
		return true
	}
	_, ok := a.origins[origin]
	return ok
}

func (a OriginAllowlist) Wildcard() bool { return a.wildcard }

// Origins lists the explicit entries, sorted.
func (a OriginAllowlist) Origins() []string {
	out := make([]string, 0, len(a.origins))
	for o := range a.origins {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// CORSMiddleware answers preflights for allowed origins with 204 and refuses
// others with 403. Simple requests from unknown origins pass through without
// CORS headers, leaving the browser to block the read.
func CORSMiddleware(allowed OriginAllowlist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			preflight := r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
			if !allowed.Allows(origin) {
				if preflight {
					http.Error(w, "origin not allowed", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type,Cache-Control")
			h.Set("Access-Control-Max-Age", "600")
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Error(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
