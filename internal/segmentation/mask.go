package segmentation

import (
	"bytes"
	"fmt"
	"image"
)

// Mask is a binary foreground mask over a garment grid. Pix holds one byte
// per pixel, row-major: 255 foreground (recolor-eligible), 0 background.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// Foreground reports whether the pixel at (x, y) is recolor-eligible.
func (m *Mask) Foreground(x, y int) bool {
	return m.Pix[y*m.Width+x] != 0
}

// ForegroundCount returns the number of foreground pixels.
func (m *Mask) ForegroundCount() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// MaskFromMatte binarizes the collaborator's alpha matte: any positive alpha
// means foreground. The policy is fixed; there is no threshold knob. The
// matte must carry an alpha channel and match the garment dimensions exactly.
func MaskFromMatte(matte []byte, width, height int) (*Mask, error) {
	src, _, err := image.Decode(bytes.NewReader(matte))
	if err != nil {
		return nil, fmt.Errorf("%w: decode matte: %v", ErrSegmentation, err)
	}

	switch src.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64:
	default:
		return nil, fmt.Errorf("%w: matte has no alpha channel (%T)", ErrSegmentation, src)
	}

	bounds := src.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return nil, fmt.Errorf("%w: matte is %dx%d, garment is %dx%d",
			ErrSegmentation, bounds.Dx(), bounds.Dy(), width, height)
	}

	mask := &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := src.At(x, y).RGBA()
			if a > 0 {
				mask.Pix[i] = 255
			}
			i++
		}
	}
	return mask, nil
}
