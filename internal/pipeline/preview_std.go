package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
)

const previewQuality = 80

type stdlibPreviewer struct{}

func (stdlibPreviewer) Render(ctx context.Context, src *image.NRGBA, width int) ([]byte, string, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, "", 0, 0, ctx.Err()
	default:
	}

	scaled, err := resizeToWidth(src, width)
	if err != nil {
		return nil, "", 0, 0, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: previewQuality}); err != nil {
		return nil, "", 0, 0, fmt.Errorf("encode preview jpeg: %w", err)
	}

	bounds := scaled.Bounds()
	return buf.Bytes(), "jpeg", bounds.Dx(), bounds.Dy(), nil
}

func resizeToWidth(src *image.NRGBA, width int) (*image.NRGBA, error) {
	if width <= 0 {
		return nil, errors.New("preview requires width > 0")
	}

	srcBounds := src.Bounds()
	srcW := srcBounds.Dx()
	srcH := srcBounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, errors.New("source image has invalid dimensions")
	}

	if width >= srcW {
		return src, nil
	}

	scale := float64(width) / float64(srcW)
	height := int(math.Round(float64(srcH) * scale))
	if height < 1 {
		height = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcY := srcBounds.Min.Y + (y*srcH)/height
		for x := 0; x < width; x++ {
			srcX := srcBounds.Min.X + (x*srcW)/width
			dst.SetNRGBA(x, y, src.NRGBAAt(srcX, srcY))
		}
	}

	return dst, nil
}
