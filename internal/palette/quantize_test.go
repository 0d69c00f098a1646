package palette

import (
	"errors"
	"image"
	"image/color"
	"math"
	"reflect"
	"testing"
)

func TestExtractTwoColorImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{B: 255, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{B: 255, A: 255})

	opts := DefaultOptions()
	opts.Colors = 2

	got, err := Extract(img, opts)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}

	if got[0].Hex != "#ff0000" || got[1].Hex != "#0000ff" {
		t.Fatalf("expected [#ff0000 #0000ff], got [%s %s]", got[0].Hex, got[1].Hex)
	}
	for i, e := range got {
		if e.Frequency != 0.5 {
			t.Fatalf("entry %d: expected frequency 0.5, got %v", i, e.Frequency)
		}
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	img := buildNoisyImage(64, 48)
	opts := DefaultOptions()

	first, err := Extract(img, opts)
	if err != nil {
		t.Fatalf("first extract: %v", err)
	}
	for run := 0; run < 3; run++ {
		again, err := Extract(img, opts)
		if err != nil {
			t.Fatalf("repeat extract: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("palette changed between runs:\nfirst: %+v\nagain: %+v", first, again)
		}
	}
}

func TestExtractFrequenciesSumToOne(t *testing.T) {
	img := buildNoisyImage(40, 40)
	opts := DefaultOptions()
	opts.Colors = 7

	pal, err := Extract(img, opts)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	sum := 0.0
	for _, e := range pal {
		sum += e.Frequency
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Fatalf("expected frequencies to sum to 1, got %v", sum)
	}

	for i := 1; i < len(pal); i++ {
		if pal[i-1].Frequency < pal[i].Frequency {
			t.Fatalf("palette not sorted by frequency at %d: %v < %v", i, pal[i-1].Frequency, pal[i].Frequency)
		}
	}
}

func TestExtractColorCountBounds(t *testing.T) {
	img := buildNoisyImage(32, 32)

	single := DefaultOptions()
	single.Colors = 1
	pal, err := Extract(img, single)
	if err != nil {
		t.Fatalf("extract with one color: %v", err)
	}
	if len(pal) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(pal))
	}

	full := DefaultOptions()
	full.Colors = 10
	pal, err = Extract(img, full)
	if err != nil {
		t.Fatalf("extract with ten colors: %v", err)
	}
	if len(pal) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(pal))
	}
}

func TestQuantizeRejectsBadParameters(t *testing.T) {
	pixels := [][3]float64{{1, 2, 3}}

	for _, k := range []int{0, -1, 11} {
		opts := DefaultOptions()
		opts.Colors = k
		if _, err := Quantize(pixels, opts); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("colors=%d: expected ErrInvalidParameter, got %v", k, err)
		}
	}

	if _, err := Quantize(nil, DefaultOptions()); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for empty population, got %v", err)
	}
}

func TestParseHex(t *testing.T) {
	if _, err := ParseHex("#FF5733"); err != nil {
		t.Fatalf("expected uppercase hex to parse, got %v", err)
	}
	if _, err := ParseHex("#ff5733"); err != nil {
		t.Fatalf("expected lowercase hex to parse, got %v", err)
	}

	for _, bad := range []string{"red", "ff5733", "#ff573", "#ff57333", "#ggff00", ""} {
		if _, err := ParseHex(bad); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("%q: expected ErrInvalidParameter, got %v", bad, err)
		}
	}
}

func TestParseHexColorsLimits(t *testing.T) {
	if _, err := ParseHexColors(nil); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for empty list, got %v", err)
	}

	many := make([]string, MaxColors+1)
	for i := range many {
		many[i] = "#010203"
	}
	if _, err := ParseHexColors(many); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for oversized list, got %v", err)
	}
}

// buildNoisyImage produces a fixed multi-color gradient; same inputs, same
// bytes, every run.
func buildNoisyImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 7) % 256),
				G: uint8((y * 11) % 256),
				B: uint8((x*y + 13) % 256),
				A: 255,
			})
		}
	}
	return img
}
