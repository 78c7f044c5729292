package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"faceframe/internal/api"
	"faceframe/internal/config"
	"faceframe/internal/queue"
	"faceframe/internal/ratelimit"
	"faceframe/internal/storage"
	"faceframe/internal/store"
	"faceframe/internal/telemetry"
	"faceframe/internal/template"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "faceframe-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	templates, err := config.Templates()
	if err != nil {
		logger.Fatalf("template config invalid: %v", err)
	}
	registry, err := template.NewRegistry(templates...)
	if err != nil {
		logger.Fatalf("template registry invalid: %v", err)
	}

	assets, err := newAssetStore(ctx, cfg.Assets)
	if err != nil {
		logger.Fatalf("asset store setup failed: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	rateLimiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitPerMin, time.Minute, "")
	if err != nil {
		logger.Fatalf("rate limiter setup failed: %v", err)
	}

	jobStore := store.NewMemoryJobStore()

	app, err := api.NewServer(logger, registry, assets, queueClient, jobStore, rateLimiter, cfg.API)
	if err != nil {
		logger.Fatalf("server setup failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func newAssetStore(ctx context.Context, cfg config.AssetConfig) (api.AssetStore, error) {
	if cfg.Kind == config.AssetKindS3 {
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
			Prefix:   cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
	return storage.NewLocalStore(cfg.LocalDir)
}
