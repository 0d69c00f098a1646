package store

import (
	"context"
	"errors"

	"github.com/chromaknit/chromaknit/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
}

// UsageStore records per-job billing signals after a recolor finishes.
// Writes are best effort; a failed usage insert never fails the job.
type UsageStore interface {
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
}
