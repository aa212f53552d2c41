package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/simhastha/anubhav-gateway/internal/api"
	"github.com/simhastha/anubhav-gateway/internal/chat"
	"github.com/simhastha/anubhav-gateway/internal/circuitbreaker"
	"github.com/simhastha/anubhav-gateway/internal/config"
	"github.com/simhastha/anubhav-gateway/internal/httputil"
	"github.com/simhastha/anubhav-gateway/internal/metrics"
	"github.com/simhastha/anubhav-gateway/internal/notifications"
	"github.com/simhastha/anubhav-gateway/internal/provider/gemini"
	"github.com/simhastha/anubhav-gateway/internal/queue"
	"github.com/simhastha/anubhav-gateway/internal/ratelimit"
	"github.com/simhastha/anubhav-gateway/internal/redisclient"
	"github.com/simhastha/anubhav-gateway/internal/router"
	"github.com/simhastha/anubhav-gateway/internal/secrets"
	"github.com/simhastha/anubhav-gateway/internal/telemetry"
)

const serviceName = "anubhav-gateway"

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("starting chat gateway", "addr", cfg.Addr(), "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, serviceName, version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return err
		}
	}

	apiKey := resolveAPIKey(ctx, cfg, awsCfg)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = redisclient.Connect(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, using in-memory state", "error", err)
			rdb = nil
		} else {
			slog.Info("connected to redis")
			defer rdb.Close()
		}
	}

	var routerOpts []router.Option
	if cfg.CircuitBreakerEnabled {
		var cbOpts []circuitbreaker.ManagerOption
		if rdb != nil {
			cbOpts = append(cbOpts, circuitbreaker.WithRedisClient(rdb))
		}
		routerOpts = append(routerOpts, router.WithCircuitBreakers(
			circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), cbOpts...),
		))
		slog.Info("circuit breakers enabled", "distributed", rdb != nil)
	}
	modelRouter := router.New(cfg.GeminiModel, router.DefaultFallbacks, routerOpts...)

	var rateLimiter ratelimit.RateLimiter
	if cfg.RateLimitRPM > 0 {
		if rdb != nil {
			rateLimiter = ratelimit.NewRedisRateLimiter(rdb)
			slog.Info("using redis rate limiter", "rpm", cfg.RateLimitRPM)
		} else {
			rateLimiter = ratelimit.NewInMemoryRateLimiter()
			slog.Info("using in-memory rate limiter", "rpm", cfg.RateLimitRPM)
		}
	}

	var chatOpts []chat.Option
	if cfg.AlertTopicARN != "" {
		var dedup notifications.Deduplicator = notifications.NewInMemoryDeduplicator(notifications.DefaultDedupWindow)
		if rdb != nil {
			dedup = notifications.NewRedisDeduplicator(rdb, notifications.DefaultDedupWindow)
		}
		notifier := notifications.NewSNSNotifier(awsCfg, cfg.AlertTopicARN)
		chatOpts = append(chatOpts, chat.WithAlerter(notifications.NewAlerter(notifier, dedup)))
		slog.Info("operator alerts enabled", "topic", cfg.AlertTopicARN)
	}

	chatCfg := chat.DefaultConfig()
	provider := gemini.New(apiKey, cfg.GeminiBaseURL,
		gemini.WithHTTPClient(httputil.NewClient(httputil.ForAttempt(chatCfg.AttemptTimeout))),
	)
	svc := chat.New(provider, modelRouter, chatCfg, chatOpts...)
	defer svc.Close()

	if !svc.HasAPIKey() {
		slog.Warn("GEMINI_API_KEY is not set, chat requests will be answered with a configuration error")
	}
	metrics.InitInstanceMetrics(version, modelRouter.Primary())
	slog.Info("model order", "models", modelRouter.Models())

	var checkers []api.HealthChecker
	if rdb != nil {
		checkers = append(checkers, api.NewRedisHealthChecker(rdb))
	}

	handler := api.NewHandler(api.HandlerConfig{
		Chat:           svc,
		Router:         modelRouter,
		RateLimiter:    rateLimiter,
		RateLimitRPM:   cfg.RateLimitRPM,
		AllowedOrigins: cfg.AllowedOrigins,
		Checkers:       checkers,
		Version:        version,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	if cfg.QueueEnabled() {
		q := queue.NewSQSQueue(awsCfg, cfg.ChatRequestQueueURL, cfg.ChatResponseQueueURL)
		worker := queue.NewWorker(q, svc)
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	err = g.Wait()
	slog.Info("server stopped")
	return err
}

// resolveAPIKey prefers the secret store when a secret name is configured
// and falls back to the environment value when the lookup fails.
func resolveAPIKey(ctx context.Context, cfg *config.Config, awsCfg aws.Config) string {
	if cfg.GeminiAPIKeySecret == "" {
		return cfg.GeminiAPIKey
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store := secrets.NewAWSSecretsManager(awsCfg)
	key, err := secrets.ResolveGeminiKey(ctx, store, cfg.GeminiAPIKeySecret)
	if err != nil {
		slog.Error("failed to read gemini key from secrets manager", "secret", cfg.GeminiAPIKeySecret, "error", err)
		return cfg.GeminiAPIKey
	}
	slog.Info("gemini key loaded from secrets manager", "secret", cfg.GeminiAPIKeySecret)
	return key
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
