package pipeline

import (
	"context"
	"image"
)

// Previewer renders a small lossy copy of the recolored garment for webhook
// payloads and UI thumbnails. The stdlib renderer is the default; a govips
// renderer is selected by the govips build tag.
type Previewer interface {
	Render(ctx context.Context, img *image.NRGBA, width int) (data []byte, format string, w, h int, err error)
}

func normalizeOutputFormat(format string) string {
	switch format {
	case "jpg":
		return "jpeg"
	case "jpeg", "png", "webp":
		return format
	default:
		return "png"
	}
}
