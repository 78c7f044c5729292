package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"faceframe/internal/compose"
	"faceframe/internal/config"
	"faceframe/internal/domain"
	"faceframe/internal/id"
	"faceframe/internal/queue"
	"faceframe/internal/store"
	"faceframe/internal/template"
)

// AssetStore is the template asset accessor the API needs: existence checks
// for availability reporting, listing for the template index, and loading
// for the compositor.
type AssetStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

type compositeRunner interface {
	CompositeOnTemplate(ctx context.Context, sourceURL, templateName string) compose.Result
}

type queueEnqueuer interface {
	EnqueueRenderComposite(ctx context.Context, payload queue.RenderCompositePayload) (*asynq.TaskInfo, error)
}

type Server struct {
	logger            *log.Logger
	compositor        compositeRunner
	registry          *template.Registry
	assets            AssetStore
	queueClient       queueEnqueuer
	jobStore          store.JobStore
	rateLimiter       RateLimiter
	rateLimitIDHeader string
	metrics           *metrics
	tracer            trace.Tracer
	mux               *http.ServeMux
}

func NewServer(
	logger *log.Logger,
	registry *template.Registry,
	assets AssetStore,
	queueClient queueEnqueuer,
	jobStore store.JobStore,
	rateLimiter RateLimiter,
	cfg config.APIConfig,
) (*Server, error) {
	if registry == nil {
		return nil, errors.New("template registry is required")
	}
	if assets == nil {
		return nil, errors.New("asset store is required")
	}

	m := newMetrics()
	compositor, err := compose.New(registry, assets, compose.NewHTTPFetcher(0), logger, compose.NewMetrics(m.registry))
	if err != nil {
		return nil, fmt.Errorf("build compositor: %w", err)
	}

	s := &Server{
		logger:            logger,
		compositor:        compositor,
		registry:          registry,
		assets:            assets,
		queueClient:       queueClient,
		jobStore:          jobStore,
		rateLimiter:       rateLimiter,
		rateLimitIDHeader: cfg.RateLimitIDHeader,
		metrics:           m,
		tracer:            otel.Tracer("faceframe/api"),
		mux:               http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/templates", s.handleListTemplates)
	s.mux.HandleFunc("GET /v1/templates/{name}", s.handleGetTemplate)
	s.mux.HandleFunc("POST /v1/composites", s.handleComposite)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	names := s.registry.ListAvailable(r.Context(), s.assets)
	writeJSON(w, http.StatusOK, map[string]any{"templates": names})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	cfg, err := s.registry.Resolve(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	available, err := s.assets.Exists(r.Context(), template.AssetKey(name))
	if err != nil {
		s.logger.Printf("asset existence check failed template=%s err=%v", name, err)
		available = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":          cfg.Name,
		"face_position": cfg.FacePosition,
		"available":     available,
	})
}

func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	var req domain.CompositeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res := s.compositor.CompositeOnTemplate(r.Context(), req.SourceURL, req.Template)
	if res.Failed() {
		writeJSON(w, compositeFailureStatus(res.Err), map[string]string{"error": res.Message()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"image": res.DataURI,
		"mode":  res.Mode,
	})
}

func compositeFailureStatus(err error) int {
	switch {
	case errors.Is(err, template.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, compose.ErrDownload):
		return http.StatusBadGateway
	case errors.Is(err, compose.ErrCodec):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	templateName := req.Template
	if templateName == "" {
		templateName = template.DefaultName
	}
	if _, err := s.registry.Resolve(templateName); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		Status:     domain.JobStatusCreated,
		SourceKind: req.SourceKind(),
		SourceURL:  req.SourceURL,
		Template:   templateName,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	payload := queue.RenderCompositePayload{
		JobID:         job.ID,
		SourceKind:    job.SourceKind,
		SourceURL:     req.SourceURL,
		PhotoBase64:   req.PhotoBase64,
		PhotoMIMEType: req.PhotoMIMEType,
		Prompt:        req.Prompt,
		Template:      templateName,
		WebhookURL:    req.WebhookURL,
		RequestedAt:   now,
	}

	taskInfo, err := s.queueClient.EnqueueRenderComposite(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.jobsEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed for job %s: %v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   domain.JobStatusQueued,
		"template": templateName,
		"queue":    taskInfo.Queue,
		"task_id":  taskInfo.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	resp := map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"source_kind": job.SourceKind,
		"template":    job.Template,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
	if job.OutputKey != "" {
		resp["output_key"] = job.OutputKey
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 16 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
