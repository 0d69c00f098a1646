// Package segmentation wraps the external background-matting capability. The
// model itself is a collaborator; this package only ships bytes to it and
// turns its alpha matte into a binary foreground mask.
package segmentation

import (
	"context"
	"errors"
)

// ErrSegmentation covers collaborator failures and malformed collaborator
// output. Failures are treated as deterministic for a given image; callers
// surface the error instead of retrying.
var ErrSegmentation = errors.New("segmentation failed")

// Segmenter produces an alpha matte for an encoded garment image: same
// spatial dimensions, transparent where the model saw background.
type Segmenter interface {
	Segment(ctx context.Context, imageBytes []byte) ([]byte, error)
}
