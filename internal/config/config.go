package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"faceframe/internal/template"
)

type Config struct {
	API     APIConfig
	Queue   QueueConfig
	Worker  WorkerConfig
	Assets  AssetConfig
	GenAI   GenAIConfig
	Webhook WebhookConfig
	Trace   TraceConfig
}

type APIConfig struct {
	Addr              string
	RateLimitPerMin   int
	RateLimitIDHeader string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	OutputPrefix  string
	MetricsAddr   string
}

const (
	AssetKindLocal = "local"
	AssetKindS3    = "s3"
)

type AssetConfig struct {
	Kind     string
	LocalDir string

	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

type GenAIConfig struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
}

type WebhookConfig struct {
	SigningSecret string
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		API: APIConfig{
			Addr:              env("FACEFRAME_API_ADDR", ":8080"),
			RateLimitPerMin:   envInt("FACEFRAME_RATE_LIMIT_PER_MIN", 30),
			RateLimitIDHeader: env("FACEFRAME_RATE_LIMIT_HEADER", "X-User-ID"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", max(1, runtime.NumCPU()/2)),
			OutputPrefix:  env("WORKER_OUTPUT_PREFIX", "outputs"),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9090"),
		},
		Assets: AssetConfig{
			Kind:      env("ASSET_STORE", AssetKindLocal),
			LocalDir:  env("ASSET_LOCAL_DIR", "./assets/templates"),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "faceframe-assets"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
			Prefix:    env("MINIO_TEMPLATE_PREFIX", "templates"),
		},
		GenAI: GenAIConfig{
			APIKey:     env("GENAI_API_KEY", ""),
			BaseURL:    env("GENAI_BASE_URL", ""),
			APIVersion: env("GENAI_API_VERSION", ""),
			Model:      env("GENAI_MODEL", ""),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
		},
		Trace: TraceConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("TRACE_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("TRACE_OTLP_INSECURE", false),
		},
	}
}

// defaultTemplates is the built-in template table. FACEFRAME_TEMPLATES
// replaces it wholesale with a JSON array of template configs.
var defaultTemplates = []template.Config{
	{Name: "template1", FacePosition: template.Rect{X: 300, Y: 150, Width: 400, Height: 400}},
	{Name: "template2", FacePosition: template.Rect{X: 120, Y: 340, Width: 360, Height: 360}},
	{Name: "template3", FacePosition: template.Rect{X: 510, Y: 90, Width: 300, Height: 300}},
}

func Templates() ([]template.Config, error) {
	raw := env("FACEFRAME_TEMPLATES", "")
	if raw == "" {
		configs := make([]template.Config, len(defaultTemplates))
		copy(configs, defaultTemplates)
		return configs, nil
	}

	var configs []template.Config
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		return nil, fmt.Errorf("parse FACEFRAME_TEMPLATES: %w", err)
	}
	return configs, nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
