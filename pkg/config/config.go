package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultBackendBase = "http://localhost:8000"

// Config is resolved once at process start and passed by value afterwards.
type Config struct {
	BackendBase string
	// APIKey is injected on outbound decide calls only. It must never reach
	// the browser or a log line; use String() when printing.
	APIKey string

	Addr                string
	UpstreamTimeout     time.Duration
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  string
	WSAllowedOrigins    []string
	// TrustedProxyCIDRs lists peers whose X-Forwarded-For is believed.
	TrustedProxyCIDRs   string

	RateLimitEnabled   bool
	RateLimitPerMinute int
	RateLimitWindow    time.Duration

	Redis RedisConfig

	Environment        string
	StrictProdSecurity bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type RedisConfig struct {
	Addr             string
	Password         string
	DB               int
	TLS              bool
	RequireTLS       bool
	TLSInsecure      bool
	AllowInsecureTLS bool
	TLSServerName    string
	TLSCACertFile    string
	TLSCertFile      string
	TLSKeyFile       string
}

// Load reads the process environment, optionally layered over a YAML file
// named by PAYNOW_CONFIG. Environment variables win over the file.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if path := strings.TrimSpace(os.Getenv("PAYNOW_CONFIG")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":3000")
	v.SetDefault("upstream_timeout_ms", 10000)
	v.SetDefault("max_request_body_bytes", 1<<20)
	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_per_minute", 120)
	v.SetDefault("rate_limit_window_sec", 60)
	v.SetDefault("redis_db", 0)
	v.SetDefault("strict_prod_security", true)
	v.SetDefault("http_read_header_timeout_sec", 5)
	v.SetDefault("http_read_timeout_sec", 15)
	v.SetDefault("http_write_timeout_sec", 30)
	v.SetDefault("http_idle_timeout_sec", 120)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		BackendBase:         resolveBackendBase(v.GetString("backend_base"), v.GetString("next_public_backend_base")),
		APIKey:              strings.TrimSpace(v.GetString("api_key")),
		Addr:                strings.TrimSpace(v.GetString("addr")),
		UpstreamTimeout:     time.Millisecond * time.Duration(v.GetInt("upstream_timeout_ms")),
		MaxRequestBodyBytes: v.GetInt64("max_request_body_bytes"),
		CORSAllowedOrigins:  strings.TrimSpace(v.GetString("cors_allowed_origins")),
		WSAllowedOrigins:    csvList(v.GetString("ws_allowed_origins")),
		TrustedProxyCIDRs:   strings.TrimSpace(v.GetString("trusted_proxy_cidrs")),
		RateLimitEnabled:    v.GetBool("rate_limit_enabled"),
		RateLimitPerMinute:  v.GetInt("rate_limit_per_minute"),
		RateLimitWindow:     time.Second * time.Duration(v.GetInt("rate_limit_window_sec")),
		Redis: RedisConfig{
			Addr:             strings.TrimSpace(v.GetString("redis_addr")),
			Password:         v.GetString("redis_password"),
			DB:               v.GetInt("redis_db"),
			TLS:              v.GetBool("redis_tls"),
			RequireTLS:       v.GetBool("redis_require_tls"),
			TLSInsecure:      v.GetBool("redis_tls_insecure"),
			AllowInsecureTLS: v.GetBool("redis_allow_insecure_tls"),
			TLSServerName:    strings.TrimSpace(v.GetString("redis_tls_server_name")),
			TLSCACertFile:    strings.TrimSpace(v.GetString("redis_tls_ca_cert_file")),
			TLSCertFile:      strings.TrimSpace(v.GetString("redis_tls_cert_file")),
			TLSKeyFile:       strings.TrimSpace(v.GetString("redis_tls_key_file")),
		},
		Environment:        strings.TrimSpace(v.GetString("environment")),
		StrictProdSecurity: v.GetBool("strict_prod_security"),
		ReadHeaderTimeout:  time.Second * time.Duration(v.GetInt("http_read_header_timeout_sec")),
		ReadTimeout:        time.Second * time.Duration(v.GetInt("http_read_timeout_sec")),
		WriteTimeout:       time.Second * time.Duration(v.GetInt("http_write_timeout_sec")),
		IdleTimeout:        time.Second * time.Duration(v.GetInt("http_idle_timeout_sec")),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 10 * time.Second
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.Redis.RequireTLS && cfg.Redis.Addr != "" && !cfg.Redis.TLS {
		return Config{}, errors.New("REDIS_REQUIRE_TLS=true but REDIS_TLS is not enabled")
	}
	if cfg.Redis.TLSInsecure && !cfg.Redis.AllowInsecureTLS {
		return Config{}, errors.New("REDIS_TLS_INSECURE=true requires REDIS_ALLOW_INSECURE_TLS=true")
	}
	return cfg, nil
}

// resolveBackendBase applies BACKEND_BASE, then NEXT_PUBLIC_BACKEND_BASE,
// then the local default.
func resolveBackendBase(primary, public string) string {
	base := strings.TrimSpace(primary)
	if base == "" {
		base = strings.TrimSpace(public)
	}
	if base == "" {
		base = DefaultBackendBase
	}
	return strings.TrimRight(base, "/")
}

// String is safe to log.
func (c Config) String() string {
	key := "unset"
	if c.APIKey != "" {
		key = "<redacted>"
	}
	return fmt.Sprintf("backend=%s api_key=%s addr=%s upstream_timeout=%s rate_limit=%t/%d per %s redis=%t env=%s",
		c.BackendBase, key, c.Addr, c.UpstreamTimeout, c.RateLimitEnabled, c.RateLimitPerMinute, c.RateLimitWindow, c.Redis.Addr != "", c.Environment)
}

func csvList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
