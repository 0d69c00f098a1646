//go:build govips && cgo

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/chromaknit/chromaknit/internal/codec"
)

type govipsPreviewer struct{}

func (govipsPreviewer) Render(ctx context.Context, src *image.NRGBA, width int) ([]byte, string, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, "", 0, 0, ctx.Err()
	default:
	}
	if width <= 0 {
		return nil, "", 0, 0, errors.New("preview requires width > 0")
	}

	pngBytes, err := codec.EncodePNG(src)
	if err != nil {
		return nil, "", 0, 0, err
	}

	img, err := vips.NewImageFromBuffer(pngBytes)
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("load preview source: %w", err)
	}
	defer img.Close()

	if width < img.Width() {
		scale := float64(width) / float64(img.Width())
		if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
			return nil, "", 0, 0, fmt.Errorf("resize preview: %w", err)
		}
	}

	params := vips.NewJpegExportParams()
	params.Quality = previewQuality
	data, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("encode preview jpeg: %w", err)
	}

	return data, "jpeg", img.Width(), img.Height(), nil
}
