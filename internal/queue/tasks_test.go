package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestRenderCompositeTaskRoundTrip(t *testing.T) {
	want := RenderCompositePayload{
		JobID:       "job-123",
		SourceKind:  "url",
		SourceURL:   "https://example.com/face.png",
		Template:    "template2",
		WebhookURL:  "https://example.com/hook",
		RequestedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	task, err := NewRenderCompositeTask(want)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if task.Type() != TypeRenderComposite {
		t.Fatalf("unexpected task type %s", task.Type())
	}

	got, err := ParseRenderCompositePayload(task)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseRenderCompositePayloadRejectsGarbage(t *testing.T) {
	task := asynq.NewTask(TypeRenderComposite, []byte("{"))
	if _, err := ParseRenderCompositePayload(task); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
