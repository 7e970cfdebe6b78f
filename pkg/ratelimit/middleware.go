package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paynow/pkg/httpx"
)

// MiddlewareOptions configure per-client limiting of the /api routes.
type MiddlewareOptions struct {
	Limiter        Limiter
	Limit          int
	TrustedProxies []*net.IPNet
	// OnLimited runs once for every rejected request.
	OnLimited func(r *http.Request)
}

// Middleware rejects a client over its window with 429 and Retry-After in
// whole seconds. A nil Limiter or non-positive Limit disables it.
func Middleware(opts MiddlewareOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if opts.Limiter == nil || opts.Limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + ClientIP(r, opts.TrustedProxies)
			decision := opts.Limiter.Allow(r.Context(), key, opts.Limit)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if opts.OnLimited != nil {
				opts.OnLimited(r)
			}
			wait := decision.RetryAfter(time.Now().UTC())
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httpx.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}

// ClientIP is the peer address, or the first X-Forwarded-For / X-Real-IP
// entry when the peer is a trusted proxy.
func ClientIP(r *http.Request, trusted []*net.IPNet) string {
	remoteIP := parseIP(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}
	if remoteIP != "" && isTrusted(remoteIP, trusted) {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if candidate := parseIP(first); candidate != "" {
				return candidate
			}
		}
		if realIP := parseIP(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}
	if remoteIP == "" {
		return "unknown"
	}
	return remoteIP
}

// ParseCIDRs accepts CIDRs or bare addresses; invalid entries are skipped.
func ParseCIDRs(raw string) []*net.IPNet {
	var out []*net.IPNet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			if _, cidr, err := net.ParseCIDR(part); err == nil {
				out = append(out, cidr)
			}
			continue
		}
		ip := net.ParseIP(part)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out
}

func isTrusted(ipStr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, cidr := range trusted {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if net.ParseIP(addr) != nil {
		return addr
	}
	return ""
}
