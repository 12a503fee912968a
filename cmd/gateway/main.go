package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/veilworks/veil-gateway/internal/admission"
	"github.com/veilworks/veil-gateway/internal/config"
	"github.com/veilworks/veil-gateway/internal/gateway"
	"github.com/veilworks/veil-gateway/internal/provider"
	"github.com/veilworks/veil-gateway/internal/quota"
	"github.com/veilworks/veil-gateway/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// Local development convenience; absence of a .env file is fine.
	_ = godotenv.Load()

	loader := config.NewLoader(*configDir, slog.Default())
	if err := loader.Load(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	apiKey := cfg.Upstream.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		logger.Warn("no upstream API key configured, upstream calls will be rejected")
	}
	upstream := gateway.ProviderUpstream{Client: provider.NewClient(apiKey, cfg.Upstream.BaseURL)}

	// Redis backs the quota ledger; without it quotas are not enforced.
	var ledger *quota.Ledger
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		// The ping is a health report only: a configured store always gets
		// a ledger, and requests fail with a backend error until the
		// client reconnects.
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable at startup, quota checks will fail until it recovers", "error", err)
		} else {
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
		ledger = quota.NewLedger(quota.NewRedisStore(rdb), func() quota.Policy {
			c := loader.Config()
			return quota.Policy{
				DefaultLimit:    c.Quota.DefaultLimit,
				Window:          c.Quota.Window,
				TenantOverrides: loader.Quotas().Tenants,
			}
		})
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	handler := gateway.NewHandler(upstream, ledger, metrics)
	handler.SetKeepAlive(cfg.Stream.KeepAlive)

	pipeline := buildPipeline(context.Background(), cfg.Admission, logger)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/healthz", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(admission.Middleware(pipeline, metrics))
		r.Post("/v1/chat/completions", handler.ChatCompletions)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// WriteTimeout stays zero: it would sever long event streams.
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

// buildPipeline assembles the admission stages in their fixed order. A
// zero-valued section disables its stage.
func buildPipeline(ctx context.Context, cfg config.AdmissionConfig, logger *slog.Logger) *admission.Pipeline {
	var stages []admission.Stage

	if cfg.RateLimit.RequestsPerSecond > 0 {
		buckets := admission.NewBucketStore(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		buckets.StartJanitor(ctx)
		stages = append(stages, admission.NewRateLimitStage(buckets))
	}

	var pool *admission.SlotPool
	if cfg.Concurrency > 0 {
		pool = admission.NewSlotPool(cfg.Concurrency, cfg.MaxBacklog)
		stages = append(stages, admission.NewShedStage(pool))
	}
	if cfg.Timeout > 0 {
		stages = append(stages, admission.NewTimeoutStage(cfg.Timeout))
	}
	if pool != nil {
		stages = append(stages, admission.NewConcurrencyStage(pool))
	}

	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.Name())
	}
	logger.Info("admission pipeline assembled", "stages", names)
	return admission.NewPipeline(stages...)
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}
