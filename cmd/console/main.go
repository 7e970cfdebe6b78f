package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"paynow/pkg/config"
	"paynow/pkg/hardening"
	"paynow/pkg/store"
	"paynow/pkg/telemetry"

	"github.com/redis/go-redis/v9"
)

type consoleInitTelemetryFunc func(ctx context.Context, s telemetry.Settings) (func(context.Context) error, error)
type consoleOpenRedisFunc func(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error)
type consoleListenFunc func(server *http.Server) error

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	loadConfigFn    = config.Load
	initTelemetryFn = telemetry.Init
	openRedisFn     = store.NewRedis
	listenFn        = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	cfg, err := loadConfigFn()
	if err != nil {
		logFatalf("console: config: %v", err)
		return
	}
	if err := runConsole(cfg, initTelemetryFn, openRedisFn, listenFn); err != nil {
		logFatalf("console: %v", err)
	}
}

func runConsole(cfg config.Config, initTelemetry consoleInitTelemetryFunc, openRedis consoleOpenRedisFunc, listen consoleListenFunc) error {
	if err := hardening.ValidateProduction(hardening.OptionsFromConfig("console", cfg)); err != nil {
		return err
	}
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, telemetry.SettingsFromEnv("paynow-console"))
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	log.Printf("console: starting with %s", cfg)

	var redisClient *redis.Client
	if cfg.RateLimitEnabled && cfg.Redis.Addr != "" && openRedis != nil {
		redisClient, err = openRedis(ctx, cfg.Redis)
		if err != nil {
			log.Printf("console: redis unavailable, falling back to in-memory limits: %v", err)
			redisClient = nil
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	client := telemetry.InstrumentClient(&http.Client{Timeout: cfg.UpstreamTimeout})
	s := newServer(cfg, client, redisClient)

	log.Printf("console: listening on %s", cfg.Addr)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}
