// Package recolor implements the brightness-preserving color transfer:
// foreground pixels take the hue and saturation of a target palette color
// chosen by brightness tier, while their value channel stays untouched so
// texture, folds, and shading survive the recolor.
package recolor

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/stat"

	"github.com/chromaknit/chromaknit/internal/palette"
	"github.com/chromaknit/chromaknit/internal/segmentation"
)

var (
	ErrDimensionMismatch = errors.New("mask dimensions do not match garment")

	// ErrNoForeground is informational: the mask selected nothing, so Apply
	// returns the garment unchanged alongside this error.
	ErrNoForeground = errors.New("no foreground detected")
)

// Apply recolors the garment's foreground with the target palette and returns
// a new pixel grid; the input is never mutated. Background pixels are copied
// byte for byte. When the mask has no foreground the unmodified copy is
// returned together with ErrNoForeground.
func Apply(garment *image.NRGBA, mask *segmentation.Mask, colors []colorful.Color) (*image.NRGBA, error) {
	if garment == nil {
		return nil, fmt.Errorf("%w: nil garment", palette.ErrInvalidParameter)
	}
	if len(colors) < palette.MinColors || len(colors) > palette.MaxColors {
		return nil, fmt.Errorf("%w: palette must have %d-%d colors, got %d",
			palette.ErrInvalidParameter, palette.MinColors, palette.MaxColors, len(colors))
	}

	w := garment.Bounds().Dx()
	h := garment.Bounds().Dy()
	if mask == nil || mask.Width != w || mask.Height != h {
		return nil, fmt.Errorf("%w: garment %dx%d", ErrDimensionMismatch, w, h)
	}

	out := cloneNRGBA(garment)

	brightness := foregroundBrightness(garment, mask)
	if len(brightness) == 0 {
		return out, ErrNoForeground
	}

	targets := sortByBrightness(colors)
	bounds := tierBoundaries(brightness, len(targets))

	// Hue/saturation per tier are fixed; precompute them once.
	hues := make([]float64, len(targets))
	sats := make([]float64, len(targets))
	for i, c := range targets {
		hues[i], sats[i], _ = c.Hsv()
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask.Foreground(x, y) {
				continue
			}
			off := out.PixOffset(x, y)
			v := maxChannel(out.Pix[off], out.Pix[off+1], out.Pix[off+2])
			tier := tierIndex(bounds, float64(v))
			r, g, b := colorful.Hsv(hues[tier], sats[tier], float64(v)/255.0).RGB255()
			out.Pix[off] = r
			out.Pix[off+1] = g
			out.Pix[off+2] = b
			// off+3 (alpha) stays as decoded.
		}
	}
	return out, nil
}

// foregroundBrightness collects the HSV value channel of every masked pixel.
func foregroundBrightness(garment *image.NRGBA, mask *segmentation.Mask) []float64 {
	w, h := mask.Width, mask.Height
	vals := make([]float64, 0, mask.ForegroundCount())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask.Foreground(x, y) {
				continue
			}
			off := garment.PixOffset(x, y)
			vals = append(vals, float64(maxChannel(garment.Pix[off], garment.Pix[off+1], garment.Pix[off+2])))
		}
	}
	return vals
}

// sortByBrightness orders palette colors by their own HSV value, darkest
// first, independent of the palette's frequency order.
func sortByBrightness(colors []colorful.Color) []colorful.Color {
	out := make([]colorful.Color, len(colors))
	copy(out, colors)
	sort.SliceStable(out, func(i, j int) bool {
		_, _, vi := out[i].Hsv()
		_, _, vj := out[j].Hsv()
		return vi < vj
	})
	return out
}

// tierBoundaries computes equal-population quantile cuts over the observed
// foreground brightness. n tiers need n-1 boundaries; a brightness equal to a
// boundary lands in the lower tier.
func tierBoundaries(brightness []float64, n int) []float64 {
	if n <= 1 {
		return nil
	}
	sorted := make([]float64, len(brightness))
	copy(sorted, brightness)
	sort.Float64s(sorted)

	bounds := make([]float64, n-1)
	for i := 1; i < n; i++ {
		bounds[i-1] = stat.Quantile(float64(i)/float64(n), stat.Empirical, sorted, nil)
	}
	return bounds
}

func tierIndex(bounds []float64, v float64) int {
	tier := 0
	for _, b := range bounds {
		if v > b {
			tier++
		}
	}
	return tier
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	out := &image.NRGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(out.Pix, src.Pix)
	return out
}

func maxChannel(r, g, b uint8) uint8 {
	m := r
	if g > m {
		m = g
	}
	if b > m {
		m = b
	}
	return m
}
