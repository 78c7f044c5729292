package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"faceframe/internal/config"
	"faceframe/internal/domain"
	"faceframe/internal/queue"
	"faceframe/internal/ratelimit"
	"faceframe/internal/store"
	"faceframe/internal/template"
)

type memAssetStore struct {
	assets map[string][]byte
}

func (s *memAssetStore) Load(_ context.Context, key string) ([]byte, error) {
	data, ok := s.assets[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (s *memAssetStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.assets[key]
	return ok, nil
}

func (s *memAssetStore) List(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.assets))
	for key := range s.assets {
		keys = append(keys, key)
	}
	return keys, nil
}

type captureEnqueuer struct {
	payloads []queue.RenderCompositePayload
	err      error
}

func (c *captureEnqueuer) EnqueueRenderComposite(_ context.Context, payload queue.RenderCompositePayload) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.payloads = append(c.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: "default"}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Remaining: 0, RetryAfter: 30 * time.Second}, nil
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.NRGBA{R: 128, G: 128, B: 128, A: 255}), image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestServer(t *testing.T, assets *memAssetStore, enqueuer *captureEnqueuer, limiter RateLimiter) *Server {
	t.Helper()
	registry, err := template.NewRegistry(
		template.Config{Name: "template1", FacePosition: template.Rect{X: 300, Y: 150, Width: 400, Height: 400}},
		template.Config{Name: "template2", FacePosition: template.Rect{X: 120, Y: 340, Width: 360, Height: 360}},
	)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	srv, err := NewServer(
		log.New(io.Discard, "", 0),
		registry,
		assets,
		enqueuer,
		store.NewMemoryJobStore(),
		limiter,
		config.APIConfig{RateLimitIDHeader: "X-Client-ID"},
	)
	if err != nil {
		t.Fatalf("build server: %v", err)
	}
	return srv
}

func doRequest(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &memAssetStore{assets: map[string][]byte{}}, &captureEnqueuer{}, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListTemplatesReturnsOnlyAvailable(t *testing.T) {
	assets := &memAssetStore{assets: map[string][]byte{
		"template2.png": testPNG(t, 512, 512),
	}}
	srv := newTestServer(t, assets, &captureEnqueuer{}, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/v1/templates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	names, _ := body["templates"].([]any)
	if len(names) != 1 || names[0] != "template2" {
		t.Fatalf("unexpected templates: %v", body["templates"])
	}
}

func TestGetTemplate(t *testing.T) {
	assets := &memAssetStore{assets: map[string][]byte{
		"template1.png": testPNG(t, 512, 512),
	}}
	srv := newTestServer(t, assets, &captureEnqueuer{}, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/v1/templates/template1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["name"] != "template1" {
		t.Fatalf("unexpected name %v", body["name"])
	}
	if body["available"] != true {
		t.Fatal("expected template1 to be available")
	}

	rec = doRequest(t, srv.Handler(), http.MethodGet, "/v1/templates/template2", nil)
	if body := decodeBody(t, rec); body["available"] != false {
		t.Fatal("expected template2 to be unavailable")
	}

	rec = doRequest(t, srv.Handler(), http.MethodGet, "/v1/templates/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCompositeEndpoint(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(testPNG(t, 640, 480))
	}))
	defer source.Close()

	assets := &memAssetStore{assets: map[string][]byte{
		"template1.png": testPNG(t, 1024, 1024),
	}}
	srv := newTestServer(t, assets, &captureEnqueuer{}, nil)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/composites", domain.CompositeRequest{
		SourceURL: source.URL,
		Template:  "template1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	img, _ := body["image"].(string)
	if !strings.HasPrefix(img, "data:image/png;base64,") {
		t.Fatalf("unexpected image payload: %.40s", img)
	}
	if body["mode"] != "composite" {
		t.Fatalf("expected composite mode, got %v", body["mode"])
	}
}

func TestCompositeEndpointStatusMapping(t *testing.T) {
	badSource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer badSource.Close()

	garbageSource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not an image"))
	}))
	defer garbageSource.Close()

	assets := &memAssetStore{assets: map[string][]byte{}}
	srv := newTestServer(t, assets, &captureEnqueuer{}, nil)
	handler := srv.Handler()

	cases := []struct {
		name string
		req  domain.CompositeRequest
		want int
	}{
		{"unknown template", domain.CompositeRequest{SourceURL: garbageSource.URL, Template: "nope"}, http.StatusNotFound},
		{"download failure", domain.CompositeRequest{SourceURL: badSource.URL, Template: "template1"}, http.StatusBadGateway},
		{"codec failure", domain.CompositeRequest{SourceURL: garbageSource.URL, Template: "template1"}, http.StatusUnprocessableEntity},
		{"missing source_url", domain.CompositeRequest{Template: "template1"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, handler, http.MethodPost, "/v1/composites", tc.req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if msg, _ := body["error"].(string); msg == "" {
				t.Fatal("failure response must carry an error message")
			}
		})
	}
}

func TestCompositeEndpointRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t, &memAssetStore{assets: map[string][]byte{}}, &captureEnqueuer{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/composites", strings.NewReader(`{"source_url":"x","bogus":true}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateJobEnqueuesTask(t *testing.T) {
	enqueuer := &captureEnqueuer{}
	srv := newTestServer(t, &memAssetStore{assets: map[string][]byte{}}, enqueuer, nil)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/jobs", domain.CreateJobRequest{
		SourceURL:  "https://example.com/face.png",
		WebhookURL: "https://example.com/hook",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != domain.JobStatusQueued {
		t.Fatalf("expected queued status, got %v", body["status"])
	}
	if body["template"] != template.DefaultName {
		t.Fatalf("expected default template, got %v", body["template"])
	}

	if len(enqueuer.payloads) != 1 {
		t.Fatalf("expected one enqueued payload, got %d", len(enqueuer.payloads))
	}
	payload := enqueuer.payloads[0]
	if payload.SourceKind != domain.SourceKindURL || payload.Template != template.DefaultName {
		t.Fatalf("unexpected payload %+v", payload)
	}

	jobID, _ := body["job_id"].(string)
	rec = doRequest(t, srv.Handler(), http.MethodGet, "/v1/jobs/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != domain.JobStatusQueued {
		t.Fatalf("expected queued job, got %v", body["status"])
	}
}

func TestCreateJobRejectsUnknownTemplate(t *testing.T) {
	srv := newTestServer(t, &memAssetStore{assets: map[string][]byte{}}, &captureEnqueuer{}, nil)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/jobs", domain.CreateJobRequest{
		SourceURL: "https://example.com/face.png",
		Template:  "unknown",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t, &memAssetStore{assets: map[string][]byte{}}, &captureEnqueuer{}, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/v1/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRateLimitRejectsMutations(t *testing.T) {
	srv := newTestServer(t, &memAssetStore{assets: map[string][]byte{}}, &captureEnqueuer{}, denyLimiter{})
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/v1/jobs", domain.CreateJobRequest{
		SourceURL: "https://example.com/face.png",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// Reads are never limited.
	rec = doRequest(t, handler, http.MethodGet, "/v1/templates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for read, got %d", rec.Code)
	}
}
