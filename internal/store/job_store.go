package store

import (
	"context"

	"faceframe/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	MarkFailed(ctx context.Context, id, message string) (domain.Job, error)
	MarkSucceeded(ctx context.Context, id, outputKey string) (domain.Job, error)
}
