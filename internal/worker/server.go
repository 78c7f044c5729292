package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"faceframe/internal/compose"
	"faceframe/internal/config"
	"faceframe/internal/domain"
	"faceframe/internal/queue"
	"faceframe/internal/store"
	"faceframe/internal/template"
	"faceframe/internal/webhook"
)

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// AssetStore is the template accessor slice the worker's compositor needs.
type AssetStore = compose.AssetStore

// Stylizer produces the cartoon face image from a raw user photo.
type Stylizer interface {
	Stylize(ctx context.Context, photo []byte, mimeType, prompt string) ([]byte, error)
}

// OutputWriter publishes finished composites to object storage. A nil
// OutputWriter skips publishing; the webhook payload still carries the image.
type OutputWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// Server consumes composite render tasks. Photo jobs pass through the
// stylize model first; URL jobs go straight to the compositor.
type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	compositor    *compose.Compositor
	stylizer      Stylizer
	outputs       OutputWriter
	outputPrefix  string
	webhookClient webhookSender
	jobStore      store.JobStore
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	registry *template.Registry,
	assets AssetStore,
	styler Stylizer,
	outputs OutputWriter,
	webhookClient webhookSender,
	jobStore store.JobStore,
) (*Server, error) {
	m := newMetrics()

	compositor, err := compose.New(registry, assets, compose.NewHTTPFetcher(0), logger, compose.NewMetrics(m.registry))
	if err != nil {
		return nil, fmt.Errorf("build compositor: %w", err)
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		compositor:    compositor,
		stylizer:      styler,
		outputs:       outputs,
		outputPrefix:  workerCfg.OutputPrefix,
		webhookClient: webhookClient,
		jobStore:      jobStore,
		metrics:       m,
		tracer:        otel.Tracer("faceframe/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderComposite, s.handleRenderComposite)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRenderComposite(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseRenderCompositePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.render_composite", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_kind", payload.SourceKind),
		attribute.String("job.template", payload.Template),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceKind, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceKind, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_kind=%s template=%s",
		payload.JobID,
		payload.SourceKind,
		payload.Template,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	res, err := s.renderJob(ctx, payload)
	if err == nil && res.Failed() {
		err = res.Err
	}
	if err != nil {
		s.markJobFailed(ctx, payload.JobID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "composite failed")
		s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"template":     payload.Template,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if errors.Is(err, template.ErrTemplateNotFound) {
			// Configuration errors never heal on retry.
			return fmt.Errorf("render composite: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("render composite: %w", err)
	}

	outputKey, err := s.publishOutput(ctx, payload.JobID, res)
	if err != nil {
		s.markJobFailed(ctx, payload.JobID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("publish output: %w", err)
	}

	if _, err := s.jobStore.MarkSucceeded(ctx, payload.JobID, outputKey); err != nil {
		s.logger.Printf("job success update failed job_id=%s err=%v", payload.JobID, err)
	}
	s.logger.Printf("Composited job_id=%s mode=%s output_key=%s", payload.JobID, res.Mode, outputKey)

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"template":     payload.Template,
		"mode":         res.Mode,
		"output_key":   outputKey,
		"image":        res.DataURI,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "composited")
	return nil
}

func (s *Server) renderJob(ctx context.Context, payload queue.RenderCompositePayload) (compose.Result, error) {
	if payload.SourceKind != domain.SourceKindPhoto {
		return s.compositor.CompositeOnTemplate(ctx, payload.SourceURL, payload.Template), nil
	}

	if s.stylizer == nil {
		return compose.Result{}, errors.New("stylize model is not configured")
	}

	photo, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload.PhotoBase64))
	if err != nil {
		return compose.Result{}, fmt.Errorf("decode photo: %v: %w", err, asynq.SkipRetry)
	}

	styled, err := s.stylizer.Stylize(ctx, photo, payload.PhotoMIMEType, payload.Prompt)
	if err != nil {
		s.metrics.stylizeTotal.WithLabelValues("failure").Inc()
		return compose.Result{}, fmt.Errorf("stylize photo: %w", err)
	}
	s.metrics.stylizeTotal.WithLabelValues("success").Inc()

	return s.compositor.CompositeBytes(ctx, styled, payload.Template), nil
}

// publishOutput stores the composite PNG in object storage so webhook
// consumers can fetch it without re-running the job. With no output store
// configured the data URI in the webhook payload is the only artifact.
func (s *Server) publishOutput(ctx context.Context, jobID string, res compose.Result) (string, error) {
	if s.outputs == nil {
		return "", nil
	}

	data, err := res.PNG()
	if err != nil {
		return "", err
	}

	key := path.Join(s.outputPrefix, jobID, "composite.png")
	if err := s.outputs.Write(ctx, key, data, "image/png"); err != nil {
		return "", err
	}
	s.metrics.outputBytesTotal.Add(float64(len(data)))
	return key, nil
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) markJobFailed(ctx context.Context, jobID string, cause error) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		s.logger.Printf("job failure update failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RenderCompositePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
