package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeRenderComposite = "composite:render"

type RenderCompositePayload struct {
	JobID         string    `json:"job_id"`
	SourceKind    string    `json:"source_kind"`
	SourceURL     string    `json:"source_url,omitempty"`
	PhotoBase64   string    `json:"photo_base64,omitempty"`
	PhotoMIMEType string    `json:"photo_mime_type,omitempty"`
	Prompt        string    `json:"prompt,omitempty"`
	Template      string    `json:"template,omitempty"`
	WebhookURL    string    `json:"webhook_url,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

func NewRenderCompositeTask(payload RenderCompositePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderComposite, body), nil
}

func ParseRenderCompositePayload(task *asynq.Task) (RenderCompositePayload, error) {
	var payload RenderCompositePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderCompositePayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	return payload, nil
}
