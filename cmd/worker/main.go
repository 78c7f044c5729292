package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"faceframe/internal/config"
	"faceframe/internal/genai"
	"faceframe/internal/storage"
	"faceframe/internal/store"
	"faceframe/internal/telemetry"
	"faceframe/internal/template"
	"faceframe/internal/webhook"
	"faceframe/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "faceframe-worker",
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

	var (
		assets  worker.AssetStore
		outputs worker.OutputWriter
	)
	if cfg.Assets.Kind == config.AssetKindS3 {
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Assets.Endpoint,
			Access:   cfg.Assets.AccessKey,
			Secret:   cfg.Assets.SecretKey,
			Bucket:   cfg.Assets.Bucket,
			UseSSL:   cfg.Assets.UseSSL,
			Prefix:   cfg.Assets.Prefix,
		})
		if err != nil {
			logger.Fatalf("storage setup failed: %v", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			logger.Fatalf("storage bucket setup failed: %v", err)
		}
		assets = client
		outputs = client
	} else {
		local, err := storage.NewLocalStore(cfg.Assets.LocalDir)
		if err != nil {
			logger.Fatalf("asset store setup failed: %v", err)
		}
		assets = local
	}

	var styler worker.Stylizer
	if cfg.GenAI.APIKey != "" {
		styler = genai.New(genai.Options{
			APIKey:     cfg.GenAI.APIKey,
			BaseURL:    cfg.GenAI.BaseURL,
			APIVersion: cfg.GenAI.APIVersion,
			Model:      cfg.GenAI.Model,
			Logger:     logger,
		})
	} else {
		logger.Printf("GENAI_API_KEY is not set, photo jobs will fail")
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
	})

	jobStore := store.NewMemoryJobStore()

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		registry,
		assets,
		styler,
		outputs,
		webhookClient,
		jobStore,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		logger.Printf("worker metrics listening on %s", cfg.Worker.MetricsAddr)
		metricsServer := &http.Server{
			Addr:    cfg.Worker.MetricsAddr,
			Handler: srv.MetricsHandler(),
		}
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
