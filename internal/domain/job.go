package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromaknit/chromaknit/internal/palette"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	MaxPaletteColors = 10
)

// CreateJobRequest describes a garment recolor job. The garment image comes
// from a local file or a presigned object upload; Colors is the target yarn
// palette as hex strings, darkest-to-lightest ordering not required.
type CreateJobRequest struct {
	SourceType   string   `json:"source_type"`
	WebhookURL   string   `json:"webhook_url,omitempty"`
	ObjectKey    string   `json:"object_key,omitempty"`
	Colors       []string `json:"colors"`
	PreviewWidth int      `json:"preview_width,omitempty"`
}

type Job struct {
	ID           string
	UserID       string
	Status       string
	SourceType   string
	WebhookURL   string
	Colors       []string
	ObjectKey    string
	PreviewWidth int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if len(r.Colors) == 0 {
		return errors.New("colors must contain at least one hex color")
	}
	if len(r.Colors) > MaxPaletteColors {
		return fmt.Errorf("colors must contain at most %d entries, got %d", MaxPaletteColors, len(r.Colors))
	}
	for i, c := range r.Colors {
		if _, err := palette.ParseHex(c); err != nil {
			return fmt.Errorf("colors[%d]: %w", i, err)
		}
	}
	if r.PreviewWidth < 0 {
		return errors.New("preview_width must not be negative")
	}
	return nil
}
