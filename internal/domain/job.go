package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	// SourceKindURL jobs carry a URL to an already generated face image.
	// SourceKindPhoto jobs carry a raw user photo that the worker first
	// sends to the stylize model.
	SourceKindURL   = "url"
	SourceKindPhoto = "photo"
)

// CompositeRequest is the synchronous composite call: one source image URL,
// one optional template name.
type CompositeRequest struct {
	SourceURL string `json:"source_url"`
	Template  string `json:"template,omitempty"`
}

func (r CompositeRequest) Validate() error {
	if strings.TrimSpace(r.SourceURL) == "" {
		return errors.New("source_url is required")
	}
	return nil
}

// CreateJobRequest describes an asynchronous composite job.
type CreateJobRequest struct {
	SourceURL     string `json:"source_url,omitempty"`
	PhotoBase64   string `json:"photo_base64,omitempty"`
	PhotoMIMEType string `json:"photo_mime_type,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	Template      string `json:"template,omitempty"`
	WebhookURL    string `json:"webhook_url,omitempty"`
}

func (r CreateJobRequest) SourceKind() string {
	if strings.TrimSpace(r.PhotoBase64) != "" {
		return SourceKindPhoto
	}
	return SourceKindURL
}

func (r CreateJobRequest) Validate() error {
	hasURL := strings.TrimSpace(r.SourceURL) != ""
	hasPhoto := strings.TrimSpace(r.PhotoBase64) != ""

	switch {
	case hasURL && hasPhoto:
		return errors.New("source_url and photo_base64 are mutually exclusive")
	case !hasURL && !hasPhoto:
		return errors.New("either source_url or photo_base64 is required")
	}

	if hasPhoto {
		if _, err := base64.StdEncoding.DecodeString(strings.TrimSpace(r.PhotoBase64)); err != nil {
			return fmt.Errorf("photo_base64 is not valid base64: %w", err)
		}
	}
	return nil
}

type Job struct {
	ID         string
	Status     string
	SourceKind string
	SourceURL  string
	Template   string
	WebhookURL string
	OutputKey  string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
