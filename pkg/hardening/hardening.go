package hardening

import (
	"fmt"
	"net/url"
	"strings"

	"paynow/pkg/config"
	"paynow/pkg/httpx"
)

// Options is the subset of configuration that production startup checks.
type Options struct {
	Service               string
	Environment           string
	StrictProdSecurity    bool
	APIKey                string
	BackendBase           string
	RedisAddr             string
	RedisTLS              bool
	RedisRequireTLS       bool
	RedisTLSInsecure      bool
	RedisAllowInsecureTLS bool
	CORSAllowedOrigins    string
}

func OptionsFromConfig(service string, cfg config.Config) Options {
	return Options{
		Service:               service,
		Environment:           cfg.Environment,
		StrictProdSecurity:    cfg.StrictProdSecurity,
		APIKey:                cfg.APIKey,
		BackendBase:           cfg.BackendBase,
		RedisAddr:             cfg.Redis.Addr,
		RedisTLS:              cfg.Redis.TLS,
		RedisRequireTLS:       cfg.Redis.RequireTLS,
		RedisTLSInsecure:      cfg.Redis.TLSInsecure,
		RedisAllowInsecureTLS: cfg.Redis.AllowInsecureTLS,
		CORSAllowedOrigins:    cfg.CORSAllowedOrigins,
	}
}

// ValidateProduction refuses to start a production-like console that would
// forward unauthenticated or in clear text. Errors never include the key.
func ValidateProduction(o Options) error {
	if !isProductionLikeEnv(o.Environment) || !o.StrictProdSecurity {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "console"
	}
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("%s: strict production hardening requires API_KEY", service)
	}
	u, err := url.Parse(strings.TrimSpace(o.BackendBase))
	if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return fmt.Errorf("%s: strict production hardening requires an https BACKEND_BASE, got %q", service, o.BackendBase)
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !o.RedisTLS || !o.RedisRequireTLS {
			return fmt.Errorf("%s: strict production hardening requires REDIS_TLS=true and REDIS_REQUIRE_TLS=true", service)
		}
		if o.RedisTLSInsecure || o.RedisAllowInsecureTLS {
			return fmt.Errorf("%s: strict production hardening forbids REDIS_TLS_INSECURE/REDIS_ALLOW_INSECURE_TLS", service)
		}
	}
	return validateCORSOrigins(o.CORSAllowedOrigins, service)
}

func validateCORSOrigins(raw, service string) error {
	allowed := httpx.ParseOrigins(raw)
	if allowed.Wildcard() {
		return fmt.Errorf("%s: strict production hardening forbids CORS wildcard origin", service)
	}
	origins := allowed.Origins()
	if len(origins) == 0 {
		return fmt.Errorf("%s: strict production hardening requires explicit CORS_ALLOWED_ORIGINS", service)
	}
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
			return fmt.Errorf("%s: strict production hardening requires HTTPS CORS origin, got %q", service, o)
		}
		switch strings.ToLower(u.Hostname()) {
		case "localhost", "127.0.0.1", "::1":
			return fmt.Errorf("%s: strict production hardening forbids localhost CORS origin %q", service, o)
		}
	}
	return nil
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
